package handlers

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"ppg-monitor/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DataBuffer управляет буферизацией отсчетов сигнала перед записью в БД
type DataBuffer struct {
	db             *gorm.DB
	sessionBuffers map[uuid.UUID]*SessionDataBuffer
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// SessionDataBuffer буфер для одной сессии
type SessionDataBuffer struct {
	SessionID uuid.UUID
	Pleth     []models.PlethPoint
	LastFlush time.Time
	lastT     float64 // время последней принятой точки, переживает флаш
	mu        sync.Mutex
}

// NewDataBuffer создает новый буфер данных
func NewDataBuffer(db *gorm.DB) *DataBuffer {
	ctx, cancel := context.WithCancel(context.Background())

	buffer := &DataBuffer{
		db:             db,
		sessionBuffers: make(map[uuid.UUID]*SessionDataBuffer),
		ctx:            ctx,
		cancel:         cancel,
	}

	// Запуск автофлаша
	buffer.wg.Add(1)
	go buffer.autoFlushWorker()

	log.Println("Data Buffer инициализирован")
	return buffer
}

// AddSample добавляет точку сырого сигнала в буфер сессии
func (db *DataBuffer) AddSample(sessionID uuid.UUID, value, timeSec float64) {
	db.mu.RLock()
	sessionBuffer, exists := db.sessionBuffers[sessionID]
	db.mu.RUnlock()

	if !exists {
		db.mu.Lock()
		if sessionBuffer, exists = db.sessionBuffers[sessionID]; !exists {
			sessionBuffer = &SessionDataBuffer{
				SessionID: sessionID,
				Pleth:     make([]models.PlethPoint, 0, 500),
				LastFlush: time.Now(),
			}
			db.sessionBuffers[sessionID] = sessionBuffer
		}
		db.mu.Unlock()
	}

	sessionBuffer.mu.Lock()
	// Время в серии не убывает: опоздавшие точки отбрасываются
	if timeSec < sessionBuffer.lastT {
		sessionBuffer.mu.Unlock()
		log.Printf("⚠️ Отброшена точка сессии %s: время %.3f раньше последнего %.3f",
			sessionID, timeSec, sessionBuffer.lastT)
		return
	}
	sessionBuffer.lastT = timeSec
	sessionBuffer.Pleth = append(sessionBuffer.Pleth, models.PlethPoint{T: timeSec, V: value})
	total := len(sessionBuffer.Pleth)
	timeSinceFlush := time.Since(sessionBuffer.LastFlush)
	sessionBuffer.mu.Unlock()

	if total >= 100 || timeSinceFlush > 30*time.Second {
		go db.flushSession(sessionID)
	}
}

// FlushAll флашит все буферы
func (db *DataBuffer) FlushAll() {
	db.mu.RLock()
	var sessionIDs []uuid.UUID
	for sessionID := range db.sessionBuffers {
		sessionIDs = append(sessionIDs, sessionID)
	}
	db.mu.RUnlock()

	for _, sessionID := range sessionIDs {
		go db.flushSession(sessionID)
	}
}

// FlushSessionSync синхронно флашит буфер сессии. Вызывается при остановке
// записи: финализация читает сигнал из БД и должна видеть все накопленное.
func (db *DataBuffer) FlushSessionSync(sessionID uuid.UUID) error {
	return db.flushSession(sessionID)
}

// flushSession флашит буфер сессии
func (db *DataBuffer) flushSession(sessionID uuid.UUID) error {
	db.mu.RLock()
	sessionBuffer, exists := db.sessionBuffers[sessionID]
	db.mu.RUnlock()

	if !exists {
		return nil
	}

	sessionBuffer.mu.Lock()

	// Копируем данные для флаша
	points := make([]models.PlethPoint, len(sessionBuffer.Pleth))
	copy(points, sessionBuffer.Pleth)

	// Очищаем буфер
	sessionBuffer.Pleth = sessionBuffer.Pleth[:0]
	sessionBuffer.LastFlush = time.Now()

	sessionBuffer.mu.Unlock()

	if len(points) == 0 {
		return nil
	}

	if err := db.writeToDatabase(sessionID, points); err != nil {
		log.Printf("❌ Ошибка записи в БД для сессии %s: %v", sessionID, err)
		return err
	}

	return nil
}

// writeToDatabase аппендит точки к JSONB массиву сессии пакетно
func (db *DataBuffer) writeToDatabase(sessionID uuid.UUID, points []models.PlethPoint) error {
	plethJSON, _ := json.Marshal(points)
	lastTimeStr := strconv.FormatFloat(points[len(points)-1].T, 'f', -1, 64)

	update := gorm.Expr(
		`jsonb_set(
       jsonb_set(
         jsonb_set(pleth_data,
           '{points}', COALESCE(pleth_data->'points','[]'::jsonb)||?::jsonb),
         '{count}', (COALESCE((pleth_data->>'count')::int,0)+?)::text::jsonb),
       '{last_time}', ?::text::jsonb)`,
		string(plethJSON),
		len(points),
		lastTimeStr,
	)

	return db.db.Model(&models.PPGSession{}).
		Where("id = ?", sessionID).
		Update("pleth_data", update).Error
}

// RemoveSessionBuffer удаляет буфер завершенной сессии
func (db *DataBuffer) RemoveSessionBuffer(sessionID uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.sessionBuffers[sessionID]; exists {
		delete(db.sessionBuffers, sessionID)
		log.Printf("Удален буфер сессии: %s", sessionID)
	}
}

// autoFlushWorker периодически флашит старые буферы
func (db *DataBuffer) autoFlushWorker() {
	defer db.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			db.flushOldBuffers()
		case <-db.ctx.Done():
			db.finalFlush()
			log.Println("Auto flush worker остановлен")
			return
		}
	}
}

// flushOldBuffers флашит буферы, которые давно не флашились
func (db *DataBuffer) flushOldBuffers() {
	db.mu.RLock()
	var sessionsToFlush []uuid.UUID

	for sessionID, sessionBuffer := range db.sessionBuffers {
		if time.Since(sessionBuffer.LastFlush) > 15*time.Second {
			sessionsToFlush = append(sessionsToFlush, sessionID)
		}
	}
	db.mu.RUnlock()

	for _, sessionID := range sessionsToFlush {
		go db.flushSession(sessionID)
	}
}

// finalFlush синхронный флаш всех буферов при остановке
func (db *DataBuffer) finalFlush() {
	log.Println("🔄 Финальный флаш буферов...")

	db.mu.RLock()
	var sessionIDs []uuid.UUID
	for sessionID := range db.sessionBuffers {
		sessionIDs = append(sessionIDs, sessionID)
	}
	db.mu.RUnlock()

	for _, sessionID := range sessionIDs {
		if err := db.flushSession(sessionID); err != nil {
			log.Printf("⚠️ Финальный флаш сессии %s не удался: %v", sessionID, err)
		}
	}

	log.Println("Финальный флаш завершен")
}

// Stop останавливает буфер
func (db *DataBuffer) Stop() {
	log.Println("Остановка Data Buffer...")
	db.cancel()
	db.wg.Wait()
	log.Println("Data Buffer остановлен")
}
