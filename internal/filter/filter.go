package filter

// Пакет filter реализует причинный потоковый фильтр rPPG сигнала:
// сырая интенсивность -> сигнал с нулевым средним, пригодный для поиска пиков.
//
// Две стадии, в порядке применения:
//  1. DC-блокер первого порядка: y[n] = x[n] - x[n-1] + alpha*y[n-1].
//     При alpha=0.95 срез ~0.24 Гц на 30 Гц — убирает дрейф базовой линии.
//  2. Скользящее среднее на 5 отводах — дешевый НЧ фильтр, первый ноль
//     АЧХ ~4 Гц на 30 Гц дискретизации, давит высокочастотный шум сенсора.
//
// Состояние вынесено в явную структуру State с чистым переходом Step,
// чтобы прогрев, сброс и изоляция сессий проверялись тривиально.

const (
	// DefaultAlpha коэффициент DC-блокера по умолчанию, диапазон [0.9, 0.98]
	DefaultAlpha = 0.95

	lowPassTaps = 5
)

// State полное состояние фильтра. Память O(1), одна State на одну сессию.
type State struct {
	prevRaw float64 // x[n-1] DC-блокера
	prevHP  float64 // y[n-1] DC-блокера
	taps    [lowPassTaps]float64
	tapIdx  int
	tapSum  float64
	primed  bool // прогрев выполнен
}

// NewState возвращает начальное состояние
func NewState() State {
	return State{}
}

// Step чистая функция перехода: (состояние, сырой отсчет) -> (новое состояние, отфильтрованный отсчет).
// Первый вызов после сброса выполняет прогрев: входное значение прогоняется
// через историю обеих стадий, поэтому переходный процесс запуска не попадает
// в выходной сигнал.
func Step(s State, raw float64, alpha float64) (State, float64) {
	if !s.primed {
		// Прогрев: x[n-1] = x[n] дает нулевой выход DC-блокера,
		// этим нулем заполняется вся история НЧ стадии.
		s.prevRaw = raw
		s.prevHP = 0
		for i := range s.taps {
			s.taps[i] = 0
		}
		s.tapIdx = 0
		s.tapSum = 0
		s.primed = true
		return s, 0
	}

	// Стадия 1: DC-блокер
	hp := raw - s.prevRaw + alpha*s.prevHP
	s.prevRaw = raw
	s.prevHP = hp

	// Стадия 2: скользящее среднее (кольцевой буфер)
	s.tapSum -= s.taps[s.tapIdx]
	s.tapSum += hp
	s.taps[s.tapIdx] = hp
	s.tapIdx++
	if s.tapIdx >= lowPassTaps {
		s.tapIdx = 0
	}

	return s, s.tapSum / lowPassTaps
}

// Filter тонкая stateful обертка над Step для границы с обработчиком тиков
type Filter struct {
	alpha float64
	state State
}

// NewFilter создает фильтр с заданным коэффициентом DC-блокера.
// Значения вне [0.9, 0.98] заменяются на DefaultAlpha.
func NewFilter(alpha float64) *Filter {
	if alpha < 0.9 || alpha > 0.98 {
		alpha = DefaultAlpha
	}
	return &Filter{alpha: alpha, state: NewState()}
}

// Reset возвращает фильтр в начальное состояние.
// Обязателен перед каждой новой сессией — история не должна утекать между сессиями.
func (f *Filter) Reset() {
	f.state = NewState()
}

// Process обрабатывает один сырой отсчет
func (f *Filter) Process(raw float64) float64 {
	var out float64
	f.state, out = Step(f.state, raw, f.alpha)
	return out
}

// ProcessAll пакетно фильтрует последовательность с чистого состояния.
// Пустой вход дает пустой выход. Результат поэлементно совпадает с
// потоковым применением Process к тем же данным.
func ProcessAll(signal []float64, alpha float64) []float64 {
	if len(signal) == 0 {
		return []float64{}
	}
	if alpha < 0.9 || alpha > 0.98 {
		alpha = DefaultAlpha
	}

	out := make([]float64, len(signal))
	state := NewState()
	for i, v := range signal {
		state, out[i] = Step(state, v, alpha)
	}
	return out
}
