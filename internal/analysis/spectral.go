package analysis

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"ppg-monitor/pkg/utils"
)

// Полоса правдоподобного пульса: 42..180 уд/мин
const (
	pulseBandLowHz  = 0.7
	pulseBandHighHz = 3.0
)

// SpectralHR оценивает ЧСС по доминирующей частоте спектра в пульсовой полосе.
// Служит перекрестной проверкой временной оценки DetectPeaks при финализации
// сессии; результат логируется, но никогда не замещает временную оценку.
// Возвращает 0, если данных мало или в полосе нет ни одного бина.
func SpectralHR(signal []float64, rateHz float64) int {
	if len(signal) < minSamplesForHR || rateHz <= 0 {
		return 0
	}

	// Убираем остаток постоянной составляющей и применяем окно Ханна
	buf := make([]float64, len(signal))
	copy(buf, signal)
	mean := utils.Mean(buf)
	for i := range buf {
		buf[i] -= mean
	}
	window.Apply(buf, window.Hann)

	spectrum := fft.FFTReal(buf)

	resolution := rateHz / float64(len(buf))
	minBin := int(math.Ceil(pulseBandLowHz / resolution))
	maxBin := int(math.Floor(pulseBandHighHz / resolution))
	if maxBin > len(buf)/2 {
		maxBin = len(buf) / 2
	}
	if minBin < 1 || minBin > maxBin {
		return 0
	}

	bestBin := minBin
	bestMag := 0.0
	for bin := minBin; bin <= maxBin; bin++ {
		mag := cmplx.Abs(spectrum[bin])
		if mag > bestMag {
			bestMag = mag
			bestBin = bin
		}
	}

	return int(math.Round(float64(bestBin) * resolution * 60.0))
}
