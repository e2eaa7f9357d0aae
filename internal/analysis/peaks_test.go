package analysis_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppg-monitor/internal/analysis"
)

func sineWave(freq, rateHz, offset float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / rateHz
		out[i] = offset + math.Sin(2*math.Pi*freq*t)
	}
	return out
}

func TestDetectPeaks_Sinusoid75BPM(t *testing.T) {
	// 10 секунд на 30 Гц, 75 уд/мин = 1.25 Гц
	signal := sineWave(1.25, 30, 0, 300)

	result := analysis.DetectPeaks(signal, 30)

	require.NotZero(t, result.HR, "на чистой синусоиде ЧСС обязана определиться")
	assert.InDelta(t, 75, result.HR, 2)
	assert.GreaterOrEqual(t, len(result.Peaks), 11)
}

func TestDetectPeaks_DCOffsetDoesNotMatter(t *testing.T) {
	rateHz := 30.0
	for _, freq := range []float64{0.8, 1.3, 1.5, 2.0} {
		signal := sineWave(freq, rateHz, 250, int(rateHz)*20)

		result := analysis.DetectPeaks(signal, rateHz)
		wantHR := int(math.Round(freq * 60))

		assert.InDelta(t, wantHR, result.HR, 1, "частота %.1f Гц", freq)

		wantPeaks := math.Round(freq * 20)
		assert.InDelta(t, wantPeaks, float64(len(result.Peaks)), 1, "частота %.1f Гц", freq)
	}
}

func TestDetectPeaks_TooShortReturnsSentinel(t *testing.T) {
	signal := sineWave(1.25, 30, 0, 59)

	result := analysis.DetectPeaks(signal, 30)

	assert.Equal(t, 0, result.HR, "короткий сигнал — это 'неизвестно', а не ошибка")
	assert.Empty(t, result.Peaks)
}

func TestDetectPeaks_FlatlineReturnsSentinel(t *testing.T) {
	signal := make([]float64, 300)

	result := analysis.DetectPeaks(signal, 30)

	assert.Equal(t, 0, result.HR)
}

func TestDetectPeaks_RefractoryRejectsDoubleCount(t *testing.T) {
	// Основной пик + дикротическая выемка через 4 отсчета (меньше 0.25 с на 30 Гц)
	signal := make([]float64, 120)
	for beat := 0; beat < 4; beat++ {
		base := 10 + beat*30
		signal[base] = 10               // основной пик
		signal[base+4] = 6              // вторичный зубец в рефрактерном окне
	}

	result := analysis.DetectPeaks(signal, 30)

	require.NotZero(t, result.HR)
	assert.Len(t, result.Peaks, 4, "вторичный зубец не должен считаться отдельным ударом")
}

func TestDetectPeaks_PeaksAreAscending(t *testing.T) {
	signal := sineWave(1.25, 30, 0, 300)
	result := analysis.DetectPeaks(signal, 30)

	for i := 1; i < len(result.Peaks); i++ {
		assert.Greater(t, result.Peaks[i], result.Peaks[i-1])
	}
}
