package models

import (
	"time"

	"github.com/google/uuid"
)

// Качество записанного сигнала (см. QualityClassifier)
const (
	QualityGood    = "good"
	QualityUsable  = "usable"
	QualityBad     = "bad"
	QualityUnknown = "unknown"
)

// PPGSession единая таблица для записей rPPG сигнала
type PPGSession struct {
	// Основные идентификаторы
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PatientRef *uuid.UUID `json:"patient_ref,omitempty" gorm:"type:uuid;index"`
	DeviceID   string     `json:"device_id" gorm:"type:varchar(100);not null;index"`

	// Метаданные сессии
	StartTime      time.Time  `json:"start_time" gorm:"not null;index"`
	EndTime        *time.Time `json:"end_time" gorm:"index"` // null пока сессия активна
	SamplingRateHz float64    `json:"sampling_rate_hz" gorm:"not null"`

	// Сырой сигнал как аппендабельный JSONB массив
	PlethData PlethTimeSeries `json:"pleth_data" gorm:"serializer:json;type:jsonb"`

	// Результаты финализации (устанавливаются ровно один раз при остановке)
	Quality     string  `json:"quality" gorm:"type:varchar(16)"`
	HREstimate  int     `json:"hr_estimate"`
	SBPEstimate float64 `json:"sbp_estimate"`
	DBPEstimate float64 `json:"dbp_estimate"`

	// Референсное АД, введенное пользователем (для оценки модели)
	GroundTruthSBP *float64 `json:"ground_truth_sbp,omitempty"`
	GroundTruthDBP *float64 `json:"ground_truth_dbp,omitempty"`
}

// PlethTimeSeries оптимизированная структура для аппенда
type PlethTimeSeries struct {
	Points   []PlethPoint `json:"points"`    // Массив точек данных
	LastTime float64      `json:"last_time"` // Последняя временная отметка
	Count    int          `json:"count"`     // Количество точек
}

// PlethPoint одна точка сырого сигнала
type PlethPoint struct {
	T float64 `json:"t"` // Время в секундах (компактно)
	V float64 `json:"v"` // Значение интенсивности
}

func (PPGSession) TableName() string {
	return "ppg_sessions"
}

// Values возвращает сырой сигнал как массив значений в порядке записи
func (s *PPGSession) Values() []float64 {
	values := make([]float64, 0, len(s.PlethData.Points))
	for _, p := range s.PlethData.Points {
		values = append(values, p.V)
	}
	return values
}

// GetDurationSeconds возвращает длительность сессии в секундах
func (s *PPGSession) GetDurationSeconds() int {
	if s.EndTime != nil {
		return int(s.EndTime.Sub(s.StartTime).Seconds())
	}
	return int(time.Since(s.StartTime).Seconds())
}

// IsActive проверяет, активна ли сессия
func (s *PPGSession) IsActive() bool {
	return s.EndTime == nil
}
