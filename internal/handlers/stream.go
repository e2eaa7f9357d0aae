package handlers

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// StreamUpdate одна точка живого дисплея
type StreamUpdate struct {
	DeviceID string  `json:"device_id"`
	TimeSec  float64 `json:"time_sec"`
	Raw      float64 `json:"raw"`
	Filtered float64 `json:"filtered"`
	HR       int     `json:"hr,omitempty"`
}

// streamClient подписчик дисплея
type streamClient struct {
	ch      chan *StreamUpdate
	devices map[string]bool // пустая map — без фильтра
}

// StreamHub рассылает отфильтрованные отсчеты и живые оценки подписчикам
// по WebSocket. Переполненный канал клиента пропускает данные, а не
// блокирует конвейер.
type StreamHub struct {
	subscribers map[string]*streamClient
	mu          sync.RWMutex
	upgrader    websocket.Upgrader
}

// NewStreamHub создание нового хаба
func NewStreamHub() *StreamHub {
	return &StreamHub{
		subscribers: make(map[string]*streamClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS апгрейдит HTTP запрос и стримит данные клиенту.
// Параметр запроса device_ids сужает поток до перечисленных устройств.
func (h *StreamHub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ Ошибка апгрейда WebSocket: %v", err)
		return
	}

	clientID := fmt.Sprintf("client_%d", time.Now().UnixNano())
	client := &streamClient{
		ch:      make(chan *StreamUpdate, 1000),
		devices: make(map[string]bool),
	}
	for _, id := range c.QueryArray("device_ids") {
		client.devices[id] = true
	}

	h.mu.Lock()
	h.subscribers[clientID] = client
	h.mu.Unlock()

	log.Printf("🌊 Новый стриминг клиент: %s, устройства: %v", clientID, c.QueryArray("device_ids"))

	defer func() {
		h.mu.Lock()
		delete(h.subscribers, clientID)
		h.mu.Unlock()
		conn.Close()
		log.Printf("🔌 Клиент отключен: %s", clientID)
	}()

	// Читатель нужен только чтобы заметить закрытие соединения
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update := <-client.ch:
			if update == nil {
				// Хаб остановлен
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				log.Printf("❌ Ошибка отправки данных клиенту %s: %v", clientID, err)
				return
			}
		case <-done:
			return
		}
	}
}

// Broadcast рассылка точки всем подписчикам с учетом фильтра устройств
func (h *StreamHub) Broadcast(update *StreamUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID, client := range h.subscribers {
		if len(client.devices) > 0 && !client.devices[update.DeviceID] {
			continue
		}
		select {
		case client.ch <- update:
		default:
			// Канал заполнен, пропускаем
			log.Printf("⚠️ Канал клиента %s переполнен, пропускаем данные", clientID)
		}
	}
}

// SubscriberCount возвращает число подключенных клиентов
func (h *StreamHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Stop закрывает каналы всех подписчиков
func (h *StreamHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for clientID, client := range h.subscribers {
		close(client.ch)
		delete(h.subscribers, clientID)
	}
	log.Println("Stream Hub остановлен")
}
