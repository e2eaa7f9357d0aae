package handlers

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"ppg-monitor/internal/models"
)

// WriteSessionCSV выгружает сессию в текстовую таблицу: блок заголовка
// (идентификатор записи, время старта, частота, референсное АД), затем строки
// Time,Pleth,SBP,DBP — по одной на отсчет, время в секундах от начала сессии.
func WriteSessionCSV(w io.Writer, session *models.PPGSession) error {
	gtSBP, gtDBP := "-", "-"
	if session.GroundTruthSBP != nil {
		gtSBP = strconv.FormatFloat(*session.GroundTruthSBP, 'f', 0, 64)
	}
	if session.GroundTruthDBP != nil {
		gtDBP = strconv.FormatFloat(*session.GroundTruthDBP, 'f', 0, 64)
	}

	header := fmt.Sprintf(
		"# Record ID,%s\n# Start Time,%s\n# Sampling Rate (Hz),%s\n# Ground Truth,%s/%s\n",
		session.ID.String(),
		session.StartTime.UTC().Format(time.RFC3339),
		strconv.FormatFloat(session.SamplingRateHz, 'f', -1, 64),
		gtSBP, gtDBP,
	)
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Time", "Pleth", "SBP", "DBP"}); err != nil {
		return err
	}

	sbp := strconv.FormatFloat(session.SBPEstimate, 'f', 1, 64)
	dbp := strconv.FormatFloat(session.DBPEstimate, 'f', 1, 64)

	for _, point := range session.PlethData.Points {
		row := []string{
			strconv.FormatFloat(point.T, 'f', 3, 64),
			strconv.FormatFloat(point.V, 'f', -1, 64),
			sbp,
			dbp,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
