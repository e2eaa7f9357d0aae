package handlers

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppg-monitor/configs"
	"ppg-monitor/internal/models"
)

func tickSession(deviceID string, rateHz float64) *models.PPGSession {
	return &models.PPGSession{
		ID:             uuid.New(),
		DeviceID:       deviceID,
		SamplingRateHz: rateHz,
	}
}

// newTickProcessor собирает процессор без фоновых воркеров: тики подаются
// в processTick напрямую, как их подавал бы data worker
func newTickProcessor(session *models.PPGSession) *MQTTStreamProcessor {
	sm := &SessionManager{
		activeSessions: map[string]*models.PPGSession{session.DeviceID: session},
	}
	return &MQTTStreamProcessor{
		sessionManager: sm,
		streamHub:      NewStreamHub(),
		dataBuffer:     &DataBuffer{sessionBuffers: make(map[uuid.UUID]*SessionDataBuffer)},
		pipeline:       configs.PipelineConfig{SamplingRateHz: 30, FilterAlpha: 0.95},
		devices:        make(map[string]*deviceState),
	}
}

func TestProcessTick_FractionalRateSurvives(t *testing.T) {
	// Частота в (0, 1) Гц усекается до нуля при приведении к int: интервал
	// живой оценки обязан оставаться не меньше одного тика
	session := tickSession("ppg-low-rate", 0.5)
	p := newTickProcessor(session)

	for i := 0; i < 10; i++ {
		p.processTick(&models.RawSample{
			DeviceID: session.DeviceID,
			Value:    128 + float64(i%3),
			TimeSec:  float64(i) * 2,
			Status:   models.SampleStatusOK,
		})
	}

	state := p.devices[session.DeviceID]
	require.NotNil(t, state)
	assert.Equal(t, 10, state.tickCount)
	assert.Len(t, state.liveWindow, 10)
}

func TestProcessTick_SyntheticFallbackLoggedOncePerTransition(t *testing.T) {
	session := tickSession("ppg-cam-7", 30)
	p := newTickProcessor(session)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	tick := func(i int, status string) {
		p.processTick(&models.RawSample{
			DeviceID: session.DeviceID,
			Value:    128,
			TimeSec:  float64(i) / 30,
			Status:   status,
		})
	}

	tick(0, models.SampleStatusOK)
	for i := 1; i <= 5; i++ {
		tick(i, models.SampleStatusUnavailable)
	}
	tick(6, models.SampleStatusOK)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "источник недоступен"),
		"вход в подстановку логируется один раз, не на каждый тик")
	assert.Equal(t, 1, strings.Count(out, "источник восстановлен"))

	// Подставленные отсчеты дошли до конвейера
	state := p.devices[session.DeviceID]
	require.NotNil(t, state)
	assert.Len(t, state.liveWindow, 7)
	assert.False(t, state.synthActive)
}
