package models

// Статусы источника сигнала в MQTT payload
const (
	SampleStatusOK          = "ok"
	SampleStatusUnavailable = "unavailable" // камера/сенсор недоступен, нужен синтетический fallback
)

// RawSample одна точка сырого сигнала от устройства
type RawSample struct {
	DeviceID string  `json:"device_id"`
	Value    float64 `json:"value"`
	TimeSec  float64 `json:"time_sec"`
	Status   string  `json:"status,omitempty"`
}
