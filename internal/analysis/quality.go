package analysis

import (
	"ppg-monitor/internal/models"
	"ppg-monitor/pkg/utils"
)

// minSamplesForQuality минимум отсчетов для классификации (1 секунда на 30 Гц)
const minSamplesForQuality = 30

// QualityClassifier классифицирует пригодность отфильтрованного сегмента
// по стандартному отклонению. Пороги — настраиваемые параметры, один и тот же
// экземпляр используется при живой финализации и в оффлайн-оценке, чтобы
// результаты были согласованы.
type QualityClassifier struct {
	MinStd  float64 // ниже — плоская линия без пульсовой составляющей -> Bad
	WeakStd float64 // ниже — слабая, но различимая пульсация -> Usable
	MaxStd  float64 // выше — артефакты движения / клиппинг -> Bad
}

// NewQualityClassifier возвращает классификатор с порогами по умолчанию
func NewQualityClassifier() *QualityClassifier {
	return &QualityClassifier{
		MinStd:  0.5,
		WeakStd: 2.0,
		MaxStd:  200.0,
	}
}

// Classify возвращает оценку качества сегмента
func (qc *QualityClassifier) Classify(signal []float64) string {
	if len(signal) < minSamplesForQuality {
		return models.QualityBad
	}

	std := utils.Std(signal)

	switch {
	case std < qc.MinStd:
		return models.QualityBad
	case std > qc.MaxStd:
		return models.QualityBad
	case std < qc.WeakStd:
		return models.QualityUsable
	default:
		return models.QualityGood
	}
}
