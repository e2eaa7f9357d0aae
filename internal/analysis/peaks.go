package analysis

import (
	"math"

	"ppg-monitor/pkg/utils"
)

const (
	// minSamplesForHR минимум отсчетов для оценки ЧСС (2 секунды на 30 Гц)
	minSamplesForHR = 60

	// refractorySec рефрактерный период: после принятого пика новые пики
	// ближе 0.25 с отбрасываются, чтобы дикротическая выемка не считалась
	// вторым ударом
	refractorySec = 0.25
)

// PeakResult результат поиска пиков.
// HR == 0 означает "недостаточно данных", это не ошибка.
type PeakResult struct {
	HR    int   `json:"hr"`
	Peaks []int `json:"peaks,omitempty"`
}

// DetectPeaks ищет пульсовые пики в отфильтрованном сигнале и оценивает ЧСС.
// Пик — строгий локальный максимум в 5-точечном окне, выше среднего сегмента.
func DetectPeaks(signal []float64, rateHz float64) PeakResult {
	if len(signal) < minSamplesForHR || rateHz <= 0 {
		return PeakResult{HR: 0}
	}

	mean := utils.Mean(signal)

	refractory := int(math.Floor(refractorySec * rateHz))
	if refractory < 1 {
		refractory = 1
	}

	var peaks []int
	lastPeak := -refractory // первый пик принимается без ожидания

	for i := 2; i < len(signal)-2; i++ {
		v := signal[i]
		if v <= mean {
			continue
		}
		if v <= signal[i-1] || v <= signal[i-2] || v <= signal[i+1] || v <= signal[i+2] {
			continue
		}
		if i-lastPeak < refractory {
			continue
		}
		peaks = append(peaks, i)
		lastPeak = i
	}

	if len(peaks) < 2 {
		return PeakResult{HR: 0}
	}

	// ЧСС из среднего межпикового интервала
	totalInterval := float64(peaks[len(peaks)-1]-peaks[0]) / rateHz
	meanRR := totalInterval / float64(len(peaks)-1)
	hr := int(math.Round(60.0 / meanRR))

	return PeakResult{HR: hr, Peaks: peaks}
}
