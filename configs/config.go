// configs/config.go
package configs

import (
	"os"
	"strconv"
)

type Config struct {
	Database DatabaseConfig
	App      AppConfig
	MQTT     MQTTConfig
	Pipeline PipelineConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

type AppConfig struct {
	Port     string // HTTP_PORT из .env
	LogLevel string
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      int
}

// PipelineConfig параметры конвейера обработки сигнала
type PipelineConfig struct {
	SamplingRateHz float64 // частота дискретизации по умолчанию
	FilterAlpha    float64 // коэффициент DC-блокера, диапазон [0.9, 0.98]
	QualityMinStd  float64 // ниже порога — плоская линия, сигнал Bad
	QualityWeakStd float64 // ниже порога — слабая пульсация, сигнал Usable
	QualityMaxStd  float64 // выше порога — артефакты движения, сигнал Bad
	ProbeWindow    int     // размер окна для пробного вызова модели без метаданных
}

// LoadConfig загружает конфигурацию из .env файла
func LoadConfig() *Config {

	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "ppg_user"),
			Password: getEnv("DB_PASSWORD", "ppg_password"),
			DBName:   getEnv("DB_NAME", "ppg_monitor"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			TimeZone: getEnv("DB_TIMEZONE", "Europe/Moscow"),
		},
		App: AppConfig{
			Port:     getEnv("HTTP_PORT", "8080"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "ppg_monitor_service"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			QoS:      getEnvAsInt("MQTT_QOS", 1),
		},
		Pipeline: PipelineConfig{
			SamplingRateHz: getEnvAsFloat("PPG_SAMPLING_RATE_HZ", 30.0),
			FilterAlpha:    getEnvAsFloat("PPG_FILTER_ALPHA", 0.95),
			QualityMinStd:  getEnvAsFloat("PPG_QUALITY_MIN_STD", 0.5),
			QualityWeakStd: getEnvAsFloat("PPG_QUALITY_WEAK_STD", 2.0),
			QualityMaxStd:  getEnvAsFloat("PPG_QUALITY_MAX_STD", 200.0),
			ProbeWindow:    getEnvAsInt("PPG_MODEL_PROBE_WINDOW", 1250),
		},
	}
}

// getEnv получает переменную окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает переменную окружения как int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat получает переменную окружения как float64
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
