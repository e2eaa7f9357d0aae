package analysis

// ВНИМАНИЕ: EstimateBP — грубая эвристика, а не валидированная
// физиологическая модель. Используется только когда нет оценки от
// загруженной модели, чтобы в записи сессии было хоть какое-то правдоподобное
// значение АД.
//
// База 110/70. Выше 80 уд/мин давление растет (+0.5/+0.3 мм рт.ст. на удар),
// ниже 60 — падает (-0.5/-0.3 на удар). Результат зажимается в
// SBP [90, 180], DBP [60, 110].

const (
	baselineSBP = 110.0
	baselineDBP = 70.0
)

// EstimateBP отображает ЧСС в пару (SBP, DBP) мм рт.ст.
// Детерминированная чистая функция.
func EstimateBP(hr int) (sbp, dbp float64) {
	h := float64(hr)
	if h < 40 {
		h = 40
	}
	if h > 180 {
		h = 180
	}

	sbp = baselineSBP
	dbp = baselineDBP

	switch {
	case h > 80:
		sbp += 0.5 * (h - 80)
		dbp += 0.3 * (h - 80)
	case h < 60:
		sbp -= 0.5 * (60 - h)
		dbp -= 0.3 * (60 - h)
	}

	sbp = clamp(sbp, 90, 180)
	dbp = clamp(dbp, 60, 110)
	return sbp, dbp
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
