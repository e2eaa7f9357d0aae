package inference

// Layout раскладка окна в тензор, который ожидает модель
type Layout string

const (
	LayoutFlat          Layout = "flat"           // [1, W]
	LayoutSingleChannel Layout = "single_channel" // [1, 1, W]
	LayoutDualChannel   Layout = "dual_channel"   // [1, 2, W], канал дублируется
)

// Candidate пара (раскладка, размер окна) для эмпирического подбора формы
type Candidate struct {
	Layout Layout
	Size   int
}

// WindowCount число окон размера w с шагом stride по сигналу длины n:
// floor((n-w)/stride) + 1
func WindowCount(n, w, stride int) int {
	if w <= 0 || stride < 1 || n < w {
		return 0
	}
	return (n-w)/stride + 1
}

// copyWindow копирует срез [offset, offset+size) в свежий float32 буфер.
// Окно никогда не алиасит чужую память: модель может портить свой вход
// между вызовами, это не должно затрагивать соседние окна.
func copyWindow(signal []float64, offset, size int) []float32 {
	out := make([]float32, size)
	for i := 0; i < size; i++ {
		out[i] = float32(signal[offset+i])
	}
	return out
}

// shapeWindow формирует тензор из окна согласно раскладке.
// Для LayoutDualChannel окно дублируется во второй канал — документированное
// упрощение, а не настоящий второй физиологический канал.
func shapeWindow(win []float32, layout Layout) Tensor {
	w := int64(len(win))

	switch layout {
	case LayoutSingleChannel:
		data := make([]float32, len(win))
		copy(data, win)
		return Tensor{Shape: []int64{1, 1, w}, Data: data}
	case LayoutDualChannel:
		data := make([]float32, 2*len(win))
		copy(data, win)
		copy(data[len(win):], win)
		return Tensor{Shape: []int64{1, 2, w}, Data: data}
	default:
		data := make([]float32, len(win))
		copy(data, win)
		return Tensor{Shape: []int64{1, w}, Data: data}
	}
}
