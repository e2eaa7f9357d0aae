package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ppg-monitor/internal/analysis"
)

func TestEstimateBP_Baseline(t *testing.T) {
	// В коридоре 60..80 уд/мин эвристика возвращает базу
	for _, hr := range []int{60, 70, 80} {
		sbp, dbp := analysis.EstimateBP(hr)
		assert.Equal(t, 110.0, sbp, "ЧСС %d", hr)
		assert.Equal(t, 70.0, dbp, "ЧСС %d", hr)
	}
}

func TestEstimateBP_AboveBaseline(t *testing.T) {
	sbp, dbp := analysis.EstimateBP(100)
	assert.Equal(t, 120.0, sbp) // 110 + 0.5*20
	assert.Equal(t, 76.0, dbp)  // 70 + 0.3*20
}

func TestEstimateBP_BelowBaseline(t *testing.T) {
	sbp, dbp := analysis.EstimateBP(50)
	assert.Equal(t, 105.0, sbp) // 110 - 0.5*10
	assert.Equal(t, 67.0, dbp)  // 70 - 0.3*10
}

func TestEstimateBP_MonotonicAbove80(t *testing.T) {
	prevSBP, prevDBP := analysis.EstimateBP(81)
	for hr := 82; hr <= 200; hr++ {
		sbp, dbp := analysis.EstimateBP(hr)
		assert.GreaterOrEqual(t, sbp, prevSBP, "ЧСС %d", hr)
		assert.GreaterOrEqual(t, dbp, prevDBP, "ЧСС %d", hr)
		prevSBP, prevDBP = sbp, dbp
	}
}

func TestEstimateBP_MonotonicBelow60(t *testing.T) {
	prevSBP, prevDBP := analysis.EstimateBP(30)
	for hr := 31; hr < 60; hr++ {
		sbp, dbp := analysis.EstimateBP(hr)
		assert.GreaterOrEqual(t, sbp, prevSBP, "ЧСС %d", hr)
		assert.GreaterOrEqual(t, dbp, prevDBP, "ЧСС %d", hr)
		prevSBP, prevDBP = sbp, dbp
	}
}

func TestEstimateBP_Clamps(t *testing.T) {
	sbp, dbp := analysis.EstimateBP(500)
	assert.LessOrEqual(t, sbp, 180.0)
	assert.LessOrEqual(t, dbp, 110.0)

	sbp, dbp = analysis.EstimateBP(1)
	assert.GreaterOrEqual(t, sbp, 90.0)
	assert.GreaterOrEqual(t, dbp, 60.0)
}
