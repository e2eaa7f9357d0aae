package handlers

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"ppg-monitor/configs"
	"ppg-monitor/internal/analysis"
	"ppg-monitor/internal/filter"
	"ppg-monitor/internal/models"
	"ppg-monitor/internal/signal"

	"github.com/google/uuid"
)

// liveWindowSamples хвост отфильтрованного сигнала для живой оценки ЧСС
// (10 секунд на 30 Гц)
const liveWindowSamples = 300

// MQTTStreamProcessor обрабатывает потоковые тики от устройств.
// Один тик — атомарная единица работы: чтение отсчета -> фильтр -> аппенд в
// буфер -> рассылка в дисплей. Все тики проходят через единственный data
// worker, поэтому состояние фильтра не разделяется между тиками.
type MQTTStreamProcessor struct {
	sessionManager *SessionManager
	streamHub      *StreamHub
	dataBuffer     *DataBuffer
	pipeline       configs.PipelineConfig

	// Состояние конвейера по устройствам; трогает только data worker
	devices map[string]*deviceState

	tickChannel chan tickMsg

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// deviceState состояние конвейера одного устройства
type deviceState struct {
	sessionID   uuid.UUID
	filter      *filter.Filter
	synth       *signal.Generator
	synthActive bool // идет синтетическая подстановка
	liveWindow  []float64
	rateHz      float64
	tickCount   int
	lastHR      int
}

// tickMsg либо отсчет, либо барьер для Quiesce
type tickMsg struct {
	sample  *models.RawSample
	barrier chan struct{}
}

// NewMQTTStreamProcessor создает новый процессор потоковых данных
func NewMQTTStreamProcessor(
	sessionManager *SessionManager,
	streamHub *StreamHub,
	dataBuffer *DataBuffer,
	pipeline configs.PipelineConfig,
) *MQTTStreamProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	processor := &MQTTStreamProcessor{
		sessionManager: sessionManager,
		streamHub:      streamHub,
		dataBuffer:     dataBuffer,
		pipeline:       pipeline,
		devices:        make(map[string]*deviceState),
		tickChannel:    make(chan tickMsg, 1000),
		ctx:            ctx,
		cancel:         cancel,
	}

	processor.wg.Add(2)
	go processor.dataWorker()
	go processor.bufferWorker()

	log.Println("🚀 MQTT Stream Processor запущен")
	return processor
}

// HandleIncomingMQTT главный обработчик MQTT сообщений.
// Формат топика: medical/ppg/{deviceID}/raw
func (p *MQTTStreamProcessor) HandleIncomingMQTT(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[3] != "raw" {
		log.Printf("⚠️ Неверный формат топика: %s", topic)
		return
	}

	var sample models.RawSample
	if err := json.Unmarshal(payload, &sample); err != nil {
		log.Printf("❌ Ошибка парсинга MQTT payload: %v", err)
		return
	}

	if sample.DeviceID == "" {
		sample.DeviceID = parts[2]
	}

	select {
	case p.tickChannel <- tickMsg{sample: &sample}:
	default:
		log.Printf("⚠️ Канал тиков переполнен, пропускаем отсчет устройства %s", sample.DeviceID)
	}
}

// Quiesce дожидается обработки всех тиков, стоящих в очереди перед барьером.
// Вызывается менеджером сессий при остановке записи.
func (p *MQTTStreamProcessor) Quiesce(deviceID string) {
	barrier := make(chan struct{})
	select {
	case p.tickChannel <- tickMsg{barrier: barrier}:
		select {
		case <-barrier:
		case <-p.ctx.Done():
		}
	case <-p.ctx.Done():
	}
}

// dataWorker единственный обработчик тиков
func (p *MQTTStreamProcessor) dataWorker() {
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.tickChannel:
			if msg.barrier != nil {
				close(msg.barrier)
				continue
			}
			p.processTick(msg.sample)
		case <-p.ctx.Done():
			log.Println("🛑 Data worker остановлен")
			return
		}
	}
}

// processTick обрабатывает один тик устройства
func (p *MQTTStreamProcessor) processTick(sample *models.RawSample) {
	session := p.sessionManager.GetActiveSession(sample.DeviceID)
	if session == nil {
		// Запись не идет — тик отбрасывается
		return
	}

	state := p.deviceStateFor(sample.DeviceID, session)

	value := sample.Value
	if sample.Status == models.SampleStatusUnavailable {
		// Источник недоступен: подставляем синтетический сигнал и продолжаем
		// запись. Решение о подстановке — политика уровня оркестрации, сам
		// фильтр о ней не знает. Логируются только переходы режима, не каждый тик.
		if !state.synthActive {
			state.synthActive = true
			log.Printf("⚠️ Устройство %s: источник недоступен, подставляем синтетический сигнал", sample.DeviceID)
		}
		value = state.synth.Next()
	} else if state.synthActive {
		state.synthActive = false
		log.Printf("Устройство %s: источник восстановлен, синтетическая подстановка отключена", sample.DeviceID)
	}

	filtered := state.filter.Process(value)

	// Хвост для живой оценки ЧСС
	state.liveWindow = append(state.liveWindow, filtered)
	if len(state.liveWindow) > liveWindowSamples {
		state.liveWindow = state.liveWindow[len(state.liveWindow)-liveWindowSamples:]
	}

	state.tickCount++
	// Интервал живой оценки не короче одного тика: частоты в (0,1) Гц
	// усекаются до нуля
	hrInterval := int(state.rateHz)
	if hrInterval < 1 {
		hrInterval = 1
	}
	if state.tickCount%hrInterval == 0 {
		if result := analysis.DetectPeaks(state.liveWindow, state.rateHz); result.HR > 0 {
			state.lastHR = result.HR
		}
	}

	// Аппенд сырого отсчета в буфер БД
	p.dataBuffer.AddSample(session.ID, value, sample.TimeSec)

	// Рассылка в дисплей
	p.streamHub.Broadcast(&StreamUpdate{
		DeviceID: sample.DeviceID,
		TimeSec:  sample.TimeSec,
		Raw:      value,
		Filtered: filtered,
		HR:       state.lastHR,
	})
}

// deviceStateFor возвращает состояние конвейера устройства, сбрасывая его
// при смене сессии — история фильтра не должна утекать между сессиями
func (p *MQTTStreamProcessor) deviceStateFor(deviceID string, session *models.PPGSession) *deviceState {
	state, ok := p.devices[deviceID]
	if !ok {
		state = &deviceState{filter: filter.NewFilter(p.pipeline.FilterAlpha)}
		p.devices[deviceID] = state
	}

	if state.sessionID != session.ID {
		state.sessionID = session.ID
		state.rateHz = session.SamplingRateHz
		state.filter.Reset()
		state.liveWindow = state.liveWindow[:0]
		state.tickCount = 0
		state.lastHR = 0
		state.synthActive = false
		state.synth = signal.NewGenerator(session.SamplingRateHz, 72, 0.1, time.Now().UnixNano())
		log.Printf("Конвейер устройства %s сброшен для сессии %s", deviceID, session.ID)
	}

	return state
}

// bufferWorker периодически флашит буфер в БД
func (p *MQTTStreamProcessor) bufferWorker() {
	defer p.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.dataBuffer.FlushAll()
		case <-p.ctx.Done():
			p.dataBuffer.FlushAll()
			log.Println("🛑 Buffer worker остановлен")
			return
		}
	}
}

// Stop останавливает процессор
func (p *MQTTStreamProcessor) Stop() {
	log.Println("🛑 Остановка MQTT Stream Processor...")
	p.cancel()
	p.wg.Wait()
	log.Println("✅ MQTT Stream Processor остановлен")
}
