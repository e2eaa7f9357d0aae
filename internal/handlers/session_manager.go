package handlers

import (
	"fmt"
	"log"
	"sync"
	"time"

	"ppg-monitor/configs"
	"ppg-monitor/internal/analysis"
	"ppg-monitor/internal/filter"
	"ppg-monitor/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TickQuiescer синхронно дожидается обработки всех тиков, уже стоящих в
// очереди устройства. Нужен при остановке записи: финализация не должна
// гоняться с тиком, который еще в полете.
type TickQuiescer interface {
	Quiesce(deviceID string)
}

// SessionManager управляет жизненным циклом сессий записи rPPG
type SessionManager struct {
	db             *gorm.DB
	activeSessions map[string]*models.PPGSession // ключ — deviceID
	sessionsLock   sync.RWMutex
	dataBuffer     *DataBuffer
	quiescer       TickQuiescer
	classifier     *analysis.QualityClassifier
	pipeline       configs.PipelineConfig
}

// NewSessionManager создает новый менеджер сессий
func NewSessionManager(db *gorm.DB, dataBuffer *DataBuffer, pipeline configs.PipelineConfig) *SessionManager {
	classifier := analysis.NewQualityClassifier()
	classifier.MinStd = pipeline.QualityMinStd
	classifier.WeakStd = pipeline.QualityWeakStd
	classifier.MaxStd = pipeline.QualityMaxStd

	manager := &SessionManager{
		db:             db,
		activeSessions: make(map[string]*models.PPGSession),
		dataBuffer:     dataBuffer,
		classifier:     classifier,
		pipeline:       pipeline,
	}

	log.Println("Session Manager инициализирован")
	return manager
}

// SetTickQuiescer подключает процессор тиков (устанавливается в main
// после создания обоих компонентов)
func (sm *SessionManager) SetTickQuiescer(q TickQuiescer) {
	sm.quiescer = q
}

// StartSession создает и запускает новую сессию записи
func (sm *SessionManager) StartSession(patientRef *uuid.UUID, deviceID string, rateHz float64) (*models.PPGSession, error) {
	sm.sessionsLock.Lock()
	defer sm.sessionsLock.Unlock()

	// Не более одной активной сессии на устройство
	if existing := sm.activeSessions[deviceID]; existing != nil {
		return nil, fmt.Errorf("активная сессия уже существует для устройства %s", deviceID)
	}

	if rateHz <= 0 {
		rateHz = sm.pipeline.SamplingRateHz
	}

	session := &models.PPGSession{
		ID:             uuid.New(),
		PatientRef:     patientRef,
		DeviceID:       deviceID,
		StartTime:      time.Now().UTC(),
		SamplingRateHz: rateHz,
		Quality:        models.QualityUnknown,
		PlethData: models.PlethTimeSeries{
			Points:   []models.PlethPoint{},
			Count:    0,
			LastTime: 0,
		},
	}

	if err := sm.db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("не удалось создать сессию в БД: %w", err)
	}

	sm.activeSessions[deviceID] = session

	log.Printf("Запущена сессия %s для устройства %s (%.0f Гц)",
		session.ID.String(), deviceID, rateHz)

	return session, nil
}

// StopSession завершает активную сессию и финализирует запись:
// синхронно останавливает тики устройства, дожидается флаша буфера и ровно
// один раз вычисляет качество сигнала, ЧСС и эвристическое АД.
func (sm *SessionManager) StopSession(sessionID uuid.UUID) (*models.PPGSession, error) {
	sm.sessionsLock.Lock()

	var targetDeviceID string
	var targetSession *models.PPGSession

	for deviceID, session := range sm.activeSessions {
		if session.ID == sessionID {
			targetDeviceID = deviceID
			targetSession = session
			break
		}
	}

	if targetSession == nil {
		sm.sessionsLock.Unlock()
		return nil, fmt.Errorf("активная сессия %s не найдена", sessionID.String())
	}

	// Снимаем сессию с устройства: новые тики отбрасываются
	delete(sm.activeSessions, targetDeviceID)
	sm.sessionsLock.Unlock()

	// Дожидаемся тиков, уже стоящих в очереди, затем флашим буфер —
	// только после этого сигнал в БД полон
	if sm.quiescer != nil {
		sm.quiescer.Quiesce(targetDeviceID)
	}
	if err := sm.dataBuffer.FlushSessionSync(sessionID); err != nil {
		return nil, fmt.Errorf("не удалось дофлашить буфер сессии: %w", err)
	}
	sm.dataBuffer.RemoveSessionBuffer(sessionID)

	finalized, err := sm.finalizeSession(sessionID)
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Завершена сессия %s для устройства %s: качество=%s, ЧСС=%d, АД=%.0f/%.0f",
		sessionID.String(), targetDeviceID,
		finalized.Quality, finalized.HREstimate, finalized.SBPEstimate, finalized.DBPEstimate)
	return finalized, nil
}

// finalizeSession вычисляет итоговые оценки по накопленному сигналу и
// записывает их в строку сессии
func (sm *SessionManager) finalizeSession(sessionID uuid.UUID) (*models.PPGSession, error) {
	var session models.PPGSession
	if err := sm.db.First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("не удалось прочитать сессию из БД: %w", err)
	}

	raw := session.Values()
	filtered := filter.ProcessAll(raw, sm.pipeline.FilterAlpha)

	quality := sm.classifier.Classify(filtered)
	peaks := analysis.DetectPeaks(filtered, session.SamplingRateHz)

	sbp, dbp := 0.0, 0.0
	if peaks.HR > 0 {
		sbp, dbp = analysis.EstimateBP(peaks.HR)
	}

	// Спектральная оценка — только перекрестная проверка, в запись не идет
	if spectral := analysis.SpectralHR(filtered, session.SamplingRateHz); spectral > 0 && peaks.HR > 0 {
		log.Printf("Сессия %s: ЧСС по пикам %d, по спектру %d", sessionID, peaks.HR, spectral)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"end_time":     now,
		"quality":      quality,
		"hr_estimate":  peaks.HR,
		"sbp_estimate": sbp,
		"dbp_estimate": dbp,
	}

	if err := sm.db.Model(&session).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("не удалось финализировать сессию в БД: %w", err)
	}

	session.EndTime = &now
	session.Quality = quality
	session.HREstimate = peaks.HR
	session.SBPEstimate = sbp
	session.DBPEstimate = dbp

	return &session, nil
}

// GetActiveSession возвращает активную сессию для устройства
func (sm *SessionManager) GetActiveSession(deviceID string) *models.PPGSession {
	sm.sessionsLock.RLock()
	defer sm.sessionsLock.RUnlock()
	return sm.activeSessions[deviceID]
}

// GetAllActiveSessions возвращает все активные сессии
func (sm *SessionManager) GetAllActiveSessions() []*models.PPGSession {
	sm.sessionsLock.RLock()
	defer sm.sessionsLock.RUnlock()

	sessions := make([]*models.PPGSession, 0, len(sm.activeSessions))
	for _, session := range sm.activeSessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// GetSession получает сессию из БД по ID
func (sm *SessionManager) GetSession(sessionID uuid.UUID) (*models.PPGSession, error) {
	var session models.PPGSession
	if err := sm.db.First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions возвращает все сессии, новые первыми
func (sm *SessionManager) ListSessions() ([]*models.PPGSession, error) {
	var sessions []*models.PPGSession
	if err := sm.db.Order("start_time DESC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSession удаляет сессию по явному действию пользователя
func (sm *SessionManager) DeleteSession(sessionID uuid.UUID) error {
	sm.sessionsLock.RLock()
	for _, session := range sm.activeSessions {
		if session.ID == sessionID {
			sm.sessionsLock.RUnlock()
			return fmt.Errorf("нельзя удалить активную сессию %s", sessionID.String())
		}
	}
	sm.sessionsLock.RUnlock()

	return sm.db.Delete(&models.PPGSession{}, "id = ?", sessionID).Error
}

// SetGroundTruth сохраняет референсное АД сессии
func (sm *SessionManager) SetGroundTruth(sessionID uuid.UUID, sbp, dbp float64) error {
	return sm.db.Model(&models.PPGSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"ground_truth_sbp": sbp,
			"ground_truth_dbp": dbp,
		}).Error
}

// GetActiveSessionCount возвращает количество активных сессий
func (sm *SessionManager) GetActiveSessionCount() int {
	sm.sessionsLock.RLock()
	defer sm.sessionsLock.RUnlock()
	return len(sm.activeSessions)
}

// CleanupInactiveSessions принудительно завершает зависшие сессии
func (sm *SessionManager) CleanupInactiveSessions() int {
	sm.sessionsLock.Lock()

	var sessionsToStop []uuid.UUID
	threshold := time.Now().Add(-24 * time.Hour)

	for _, session := range sm.activeSessions {
		if session.StartTime.Before(threshold) {
			sessionsToStop = append(sessionsToStop, session.ID)
		}
	}
	sm.sessionsLock.Unlock()

	for _, sessionID := range sessionsToStop {
		if _, err := sm.StopSession(sessionID); err != nil {
			log.Printf("⚠️ Не удалось завершить зависшую сессию %s: %v", sessionID, err)
		} else {
			log.Printf("Принудительно завершена зависшая сессия: %s", sessionID)
		}
	}

	return len(sessionsToStop)
}
