package inference

import (
	"context"
	"fmt"
	"log"
	"math"
	"regexp"
	"runtime"
	"strconv"
	"sync"

	"ppg-monitor/pkg/utils"
)

// EngineState состояние конечного автомата движка
type EngineState string

const (
	StateUnloaded     EngineState = "unloaded"
	StateLoaded       EngineState = "loaded"
	StateShapeProbing EngineState = "shape_probing"
	StateConfigured   EngineState = "configured"
	StateRunning      EngineState = "running"
	StateCompleted    EngineState = "completed"
	StateFailed       EngineState = "failed"
)

const (
	// DefaultProbeWindow размер окна для пробных вызовов, когда модель не
	// объявляет форму и сигнал длиннее этого значения
	DefaultProbeWindow = 1250

	// yieldEveryWindows каждые N окон цикл уступает управление: проверяет
	// отмену контекста и вызывает Gosched. На результат это не влияет —
	// порядок окон всегда по возрастанию смещения.
	yieldEveryWindows = 8
)

// ModelHandle загруженная модель и разрешенные метаданные ее входа.
// Не более одного активного handle на движок; Load заменяет предыдущий.
type ModelHandle struct {
	session    ModelSession
	InputName  string `json:"input_name"`
	OutputName string `json:"output_name"`
	WindowSize int    `json:"window_size"` // валиден после ResolveShape
	Layout     Layout `json:"layout"`      // валиден после ResolveShape
}

// WindowPrediction предсказание модели для одного окна
type WindowPrediction struct {
	SBP float64 `json:"sbp"`
	DBP float64 `json:"dbp"`
}

// PredictionAggregate итог прогона модели по сессии
type PredictionAggregate struct {
	PerWindow      []WindowPrediction `json:"per_window"`
	MeanSBP        float64            `json:"mean_sbp"`
	MeanDBP        float64            `json:"mean_dbp"`
	Dispersion     float64            `json:"dispersion"` // std SBP по окнам: прокси стабильности, не доверительный интервал
	MAE            float64            `json:"mae"`
	WindowSize     int                `json:"window_size"`
	Stride         int                `json:"stride"`
	WindowCount    int                `json:"window_count"`
	GroundTruthSBP float64            `json:"ground_truth_sbp"`
	GroundTruthDBP float64            `json:"ground_truth_dbp"`
}

// RunOptions параметры прогона. Stride == 0 означает max(1, W/4).
// GroundTruth* перекрывают референсное АД сессии (см. ResolveGroundTruth).
type RunOptions struct {
	Stride         int      `json:"stride,omitempty"`
	GroundTruthSBP *float64 `json:"ground_truth_sbp,omitempty"`
	GroundTruthDBP *float64 `json:"ground_truth_dbp,omitempty"`
}

// Engine движок инференса: Unloaded -> Loaded -> ShapeProbing -> Configured ->
// Running -> {Completed | Failed}. Владеет ровно одним ModelHandle.
type Engine struct {
	rt          ModelRuntime
	probeWindow int

	mu      sync.Mutex
	state   EngineState
	handle  *ModelHandle
	running bool
}

// NewEngine создает движок поверх внешней среды исполнения моделей.
// probeWindow <= 0 заменяется на DefaultProbeWindow.
func NewEngine(rt ModelRuntime, probeWindow int) *Engine {
	if probeWindow <= 0 {
		probeWindow = DefaultProbeWindow
	}
	return &Engine{
		rt:          rt,
		probeWindow: probeWindow,
		state:       StateUnloaded,
	}
}

// State возвращает текущее состояние автомата
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Handle возвращает активный handle или nil
func (e *Engine) Handle() *ModelHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

// Load создает исполняемую сессию из блоба модели. Предыдущий handle
// закрывается и становится невалидным. При ошибке загрузки состояние движка
// не меняется: свежий движок остается Unloaded.
func (e *Engine) Load(modelBytes []byte) (*ModelHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil, fmt.Errorf("нельзя заменить модель во время прогона")
	}
	if e.rt == nil {
		return nil, &ModelLoadError{Err: fmt.Errorf("среда исполнения моделей не подключена")}
	}

	session, err := e.rt.Load(modelBytes)
	if err != nil {
		return nil, &ModelLoadError{Err: err}
	}

	inputs := session.InputNames()
	outputs := session.OutputNames()
	if len(inputs) == 0 || len(outputs) == 0 {
		session.Close()
		return nil, &ModelLoadError{Err: fmt.Errorf("модель не объявляет входы/выходы: inputs=%d, outputs=%d",
			len(inputs), len(outputs))}
	}

	if e.handle != nil {
		e.handle.session.Close()
	}

	e.handle = &ModelHandle{
		session:    session,
		InputName:  inputs[0],
		OutputName: outputs[0],
	}
	e.state = StateLoaded

	log.Printf("Модель загружена: вход=%s, выход=%s", e.handle.InputName, e.handle.OutputName)
	return e.handle, nil
}

// Unload закрывает и сбрасывает активный handle
func (e *Engine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("нельзя выгрузить модель во время прогона")
	}
	if e.handle != nil {
		e.handle.session.Close()
		e.handle = nil
	}
	e.state = StateUnloaded
	return nil
}

// ResolveShape определяет размер окна и раскладку входа модели.
//
// Основной путь — объявленные метаданные: наибольшая положительная размерность
// берется как W, раскладка выводится из ранга и второй размерности.
// Запасной путь — перебор кандидатов (раскладка, размер) пробными вызовами;
// если текст ошибки среды исполнения содержит ожидаемый размер, раскладка
// пробуется еще один раз с исправленным размером. Парсинг текста ошибки —
// заведомо хрупкий последний рубеж, поэтому он включается только при полном
// отсутствии метаданных.
//
// signalLen — длина доступного сигнала; при 0 < signalLen < probeWindow
// пробные вызовы используют signalLen, чтобы короткую запись вообще можно
// было прогнать.
func (e *Engine) ResolveShape(signalLen int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == nil {
		return fmt.Errorf("модель не загружена")
	}
	if e.running {
		return fmt.Errorf("нельзя менять форму входа во время прогона")
	}
	if e.handle.WindowSize > 0 {
		// Форма уже разрешена для этого handle
		return nil
	}

	// Основной путь: объявленные метаданные
	if dims := e.handle.session.InputShape(e.handle.InputName); len(dims) > 0 {
		if w, layout, ok := shapeFromMetadata(dims); ok {
			e.handle.WindowSize = w
			e.handle.Layout = layout
			e.state = StateConfigured
			log.Printf("Форма входа из метаданных: окно=%d, раскладка=%s (объявлено %v)", w, layout, dims)
			return nil
		}
		log.Printf("Метаданные формы без пригодной размерности: %v, переходим к подбору", dims)
	}

	// Запасной путь: конечный автомат над списком кандидатов
	e.state = StateShapeProbing

	probeSize := e.probeWindow
	if signalLen > 0 && signalLen < probeSize {
		probeSize = signalLen
	}

	candidates := []Candidate{
		{Layout: LayoutFlat, Size: probeSize},
		{Layout: LayoutSingleChannel, Size: probeSize},
		{Layout: LayoutDualChannel, Size: probeSize},
	}

	var tried []Candidate
	var lastErr error

	for _, cand := range candidates {
		tried = append(tried, cand)

		err := e.trialCall(cand)
		if err == nil {
			e.handle.WindowSize = cand.Size
			e.handle.Layout = cand.Layout
			e.state = StateConfigured
			log.Printf("Форма входа подобрана: окно=%d, раскладка=%s", cand.Size, cand.Layout)
			return nil
		}
		lastErr = err

		// Одна корректирующая попытка на раскладку, если среда исполнения
		// назвала ожидаемый размер в тексте ошибки
		if size, ok := extractExpectedSize(err.Error()); ok && size > 0 && size != cand.Size {
			corrected := Candidate{Layout: cand.Layout, Size: size}
			tried = append(tried, corrected)

			if err := e.trialCall(corrected); err == nil {
				e.handle.WindowSize = corrected.Size
				e.handle.Layout = corrected.Layout
				e.state = StateConfigured
				log.Printf("Форма входа восстановлена из текста ошибки: окно=%d, раскладка=%s",
					corrected.Size, corrected.Layout)
				return nil
			} else {
				lastErr = err
			}
		}
	}

	e.state = StateFailed
	return &ShapeResolutionError{Tried: tried, LastErr: lastErr}
}

// trialCall пробный вызов модели нулевым окном заданной формы
func (e *Engine) trialCall(cand Candidate) error {
	probe := make([]float32, cand.Size)
	inputs := map[string]Tensor{
		e.handle.InputName: shapeWindow(probe, cand.Layout),
	}
	_, err := e.handle.session.Run(inputs)
	return err
}

// shapeFromMetadata выводит (W, раскладка) из объявленной формы входа
func shapeFromMetadata(dims []int64) (int, Layout, bool) {
	var w int64
	for _, d := range dims {
		if d > w {
			w = d
		}
	}
	if w <= 1 {
		return 0, LayoutFlat, false
	}

	layout := LayoutFlat
	if len(dims) == 3 {
		if dims[1] == 2 {
			layout = LayoutDualChannel
		} else {
			layout = LayoutSingleChannel
		}
	}
	return int(w), layout, true
}

var expectedSizeRe = regexp.MustCompile(`(?i)expected[^0-9]*([0-9]+)`)

// extractExpectedSize вытаскивает ожидаемый размер из текста ошибки среды
// исполнения ("... Expected: 120 ...")
func extractExpectedSize(msg string) (int, bool) {
	m := expectedSizeRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	size, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return size, true
}

// Run прогоняет модель скользящим окном по отфильтрованному сигналу и
// агрегирует предсказания окон. Требует разрешенной формы (ResolveShape).
// Окна идут строго по возрастанию смещения; каждые несколько окон цикл
// проверяет отмену контекста и уступает планировщику. Любая ошибка среды
// исполнения прерывает прогон — подмены результата дефолтами нет.
func (e *Engine) Run(ctx context.Context, signal []float64, opts RunOptions) (*PredictionAggregate, error) {
	e.mu.Lock()
	if e.handle == nil || e.handle.WindowSize <= 0 {
		e.mu.Unlock()
		return nil, fmt.Errorf("форма входа модели не разрешена")
	}
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("прогон уже выполняется")
	}
	e.running = true
	e.state = StateRunning
	handle := e.handle
	e.mu.Unlock()

	agg, err := e.runLocked(ctx, handle, signal, opts)

	e.mu.Lock()
	e.running = false
	if err != nil {
		e.state = StateFailed
	} else {
		e.state = StateCompleted
	}
	e.mu.Unlock()

	return agg, err
}

func (e *Engine) runLocked(ctx context.Context, handle *ModelHandle, signal []float64, opts RunOptions) (*PredictionAggregate, error) {
	w := handle.WindowSize
	if len(signal) < w {
		return nil, &InsufficientSignalError{Required: w, Available: len(signal)}
	}

	stride := opts.Stride
	if stride <= 0 {
		stride = w / 4
		if stride < 1 {
			stride = 1
		}
	}

	var perWindow []WindowPrediction

	for i, n := 0, 0; i+w <= len(signal); i, n = i+stride, n+1 {
		if n%yieldEveryWindows == yieldEveryWindows-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("прогон отменен на окне %d: %w", n, ctx.Err())
			default:
				runtime.Gosched()
			}
		}

		win := copyWindow(signal, i, w)
		inputs := map[string]Tensor{
			handle.InputName: shapeWindow(win, handle.Layout),
		}

		outputs, err := handle.session.Run(inputs)
		if err != nil {
			return nil, fmt.Errorf("ошибка модели на окне %d (смещение %d): %w", n, i, err)
		}

		out, ok := outputs[handle.OutputName]
		if !ok || len(out.Data) < 2 {
			return nil, fmt.Errorf("выход %q окна %d не содержит пары (SBP, DBP): %v",
				handle.OutputName, n, out.Data)
		}

		perWindow = append(perWindow, WindowPrediction{
			SBP: float64(out.Data[0]),
			DBP: float64(out.Data[1]),
		})
	}

	if len(perWindow) == 0 {
		return nil, &NoPredictionsError{SignalLen: len(signal), WindowSize: w, Stride: stride}
	}

	gtSBP, gtDBP := ResolveGroundTruth(opts.GroundTruthSBP, opts.GroundTruthDBP, nil, nil)
	agg := Aggregate(perWindow, gtSBP, gtDBP)
	agg.WindowSize = w
	agg.Stride = stride
	return agg, nil
}

// Aggregate сводит предсказания окон: средние SBP/DBP, разброс (std SBP по
// окнам) и MAE относительно референсного АД. Порядок окон на результат не
// влияет (с точностью до порядка суммирования с плавающей точкой).
func Aggregate(perWindow []WindowPrediction, gtSBP, gtDBP float64) *PredictionAggregate {
	sbps := make([]float64, len(perWindow))
	dbps := make([]float64, len(perWindow))
	for i, p := range perWindow {
		sbps[i] = p.SBP
		dbps[i] = p.DBP
	}

	meanSBP := utils.Mean(sbps)
	meanDBP := utils.Mean(dbps)

	return &PredictionAggregate{
		PerWindow:      perWindow,
		MeanSBP:        meanSBP,
		MeanDBP:        meanDBP,
		Dispersion:     utils.SafeFloat(utils.Std(sbps)),
		MAE:            (math.Abs(meanSBP-gtSBP) + math.Abs(meanDBP-gtDBP)) / 2,
		WindowCount:    len(perWindow),
		GroundTruthSBP: gtSBP,
		GroundTruthDBP: gtDBP,
	}
}

// ResolveGroundTruth выбирает референсное АД: явное переопределение ->
// сохраненное в сессии -> дефолт 120/80
func ResolveGroundTruth(overrideSBP, overrideDBP, sessionSBP, sessionDBP *float64) (float64, float64) {
	sbp, dbp := 120.0, 80.0
	if sessionSBP != nil {
		sbp = *sessionSBP
	}
	if sessionDBP != nil {
		dbp = *sessionDBP
	}
	if overrideSBP != nil {
		sbp = *overrideSBP
	}
	if overrideDBP != nil {
		dbp = *overrideDBP
	}
	return sbp, dbp
}
