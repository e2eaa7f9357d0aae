package handlers_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppg-monitor/internal/handlers"
	"ppg-monitor/internal/models"
)

func exportSession() *models.PPGSession {
	gtSBP, gtDBP := 135.0, 85.0
	return &models.PPGSession{
		ID:             uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		DeviceID:       "ppg-cam-01",
		StartTime:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		SamplingRateHz: 30,
		SBPEstimate:    118.4,
		DBPEstimate:    76.2,
		GroundTruthSBP: &gtSBP,
		GroundTruthDBP: &gtDBP,
		PlethData: models.PlethTimeSeries{
			Points: []models.PlethPoint{
				{T: 0, V: 128.5},
				{T: 0.033, V: 129.1},
				{T: 0.067, V: 127.8},
			},
			Count: 3,
		},
	}
}

func TestWriteSessionCSV_HeaderBlock(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, handlers.WriteSessionCSV(&sb, exportSession()))

	lines := strings.Split(sb.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 8)

	assert.Equal(t, "# Record ID,11111111-2222-3333-4444-555555555555", lines[0])
	assert.Equal(t, "# Start Time,2026-03-14T09:30:00Z", lines[1])
	assert.Equal(t, "# Sampling Rate (Hz),30", lines[2])
	assert.Equal(t, "# Ground Truth,135/85", lines[3])
	assert.Equal(t, "Time,Pleth,SBP,DBP", lines[4])
}

func TestWriteSessionCSV_OneRowPerPoint(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, handlers.WriteSessionCSV(&sb, exportSession()))

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	// 4 строки заголовка + шапка таблицы + 3 отсчета
	require.Len(t, lines, 8)

	assert.Equal(t, "0.000,128.5,118.4,76.2", lines[5])
	assert.Equal(t, "0.033,129.1,118.4,76.2", lines[6])
	assert.Equal(t, "0.067,127.8,118.4,76.2", lines[7])
}

func TestWriteSessionCSV_MissingGroundTruth(t *testing.T) {
	session := exportSession()
	session.GroundTruthSBP = nil
	session.GroundTruthDBP = nil

	var sb strings.Builder
	require.NoError(t, handlers.WriteSessionCSV(&sb, session))

	assert.Contains(t, sb.String(), "# Ground Truth,-/-")
}

func TestWriteSessionCSV_EmptySessionStillHasHeader(t *testing.T) {
	session := exportSession()
	session.PlethData = models.PlethTimeSeries{}

	var sb strings.Builder
	require.NoError(t, handlers.WriteSessionCSV(&sb, session))

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	assert.Len(t, lines, 5, "заголовок и шапка таблицы без строк данных")
}
