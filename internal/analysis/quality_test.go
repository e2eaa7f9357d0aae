package analysis_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"ppg-monitor/internal/analysis"
	"ppg-monitor/internal/models"
)

func TestQuality_ShortSegmentIsBad(t *testing.T) {
	qc := analysis.NewQualityClassifier()

	// Короче 30 отсчетов — Bad независимо от содержимого
	good := make([]float64, 29)
	for i := range good {
		good[i] = 5 * math.Sin(float64(i))
	}

	assert.Equal(t, models.QualityBad, qc.Classify(good))
	assert.Equal(t, models.QualityBad, qc.Classify(nil))
}

func TestQuality_FlatlineIsBad(t *testing.T) {
	qc := analysis.NewQualityClassifier()
	assert.Equal(t, models.QualityBad, qc.Classify(make([]float64, 60)))
}

func TestQuality_MotionArtifactIsBad(t *testing.T) {
	qc := analysis.NewQualityClassifier()

	// Гигантский размах — клиппинг/движение
	signal := make([]float64, 60)
	for i := range signal {
		signal[i] = float64(i%2) * 10000
	}

	assert.Equal(t, models.QualityBad, qc.Classify(signal))
}

func TestQuality_WeakPulsationIsUsable(t *testing.T) {
	qc := analysis.NewQualityClassifier()

	signal := make([]float64, 90)
	for i := range signal {
		signal[i] = 1.0 * math.Sin(2*math.Pi*1.2*float64(i)/30)
	}
	// std синусоиды амплитуды 1 ~ 0.707: выше MinStd, ниже WeakStd

	assert.Equal(t, models.QualityUsable, qc.Classify(signal))
}

func TestQuality_NormalPulsationIsGood(t *testing.T) {
	qc := analysis.NewQualityClassifier()

	signal := make([]float64, 90)
	for i := range signal {
		signal[i] = 5.0 * math.Sin(2*math.Pi*1.2*float64(i)/30)
	}

	assert.Equal(t, models.QualityGood, qc.Classify(signal))
}

func TestQuality_ThresholdsAreTunable(t *testing.T) {
	qc := analysis.NewQualityClassifier()
	qc.MaxStd = 3.0

	signal := make([]float64, 90)
	for i := range signal {
		signal[i] = 5.0 * math.Sin(2*math.Pi*1.2*float64(i)/30)
	}
	// std ~3.5 теперь выше потолка

	assert.Equal(t, models.QualityBad, qc.Classify(signal))
}
