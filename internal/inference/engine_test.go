package inference_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppg-monitor/internal/inference"
)

// fakeSession модель-заглушка: валидирует форму входа и возвращает
// фиксированную пару (SBP, DBP)
type fakeSession struct {
	inputName     string
	outputName    string
	declaredShape []int64 // метаданные формы; nil — метаданных нет
	acceptShape   []int64 // форма, которую Run принимает
	out           [2]float32
	runs          int
	closed        bool
}

func (s *fakeSession) Run(inputs map[string]inference.Tensor) (map[string]inference.Tensor, error) {
	tensor, ok := inputs[s.inputName]
	if !ok {
		return nil, fmt.Errorf("missing input %q", s.inputName)
	}
	if !shapeEqual(tensor.Shape, s.acceptShape) {
		return nil, fmt.Errorf("invalid input shape. Got: %v Expected: %d", tensor.Shape, s.acceptShape[len(s.acceptShape)-1])
	}
	if int64(len(tensor.Data)) != elemCount(s.acceptShape) {
		return nil, fmt.Errorf("tensor data length %d does not match shape %v", len(tensor.Data), s.acceptShape)
	}
	s.runs++
	return map[string]inference.Tensor{
		s.outputName: {Shape: []int64{1, 2}, Data: []float32{s.out[0], s.out[1]}},
	}, nil
}

func (s *fakeSession) InputNames() []string  { return []string{s.inputName} }
func (s *fakeSession) OutputNames() []string { return []string{s.outputName} }
func (s *fakeSession) InputShape(name string) []int64 {
	if name != s.inputName {
		return nil
	}
	return s.declaredShape
}
func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func shapeEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func elemCount(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// fakeRuntime принимает только блобы с магической сигнатурой
type fakeRuntime struct {
	session *fakeSession
}

func (r *fakeRuntime) Load(model []byte) (inference.ModelSession, error) {
	if len(model) < 4 || string(model[:4]) != "ONNX" {
		return nil, fmt.Errorf("не распознан формат модели")
	}
	return r.session, nil
}

func newTestEngine(session *fakeSession) *inference.Engine {
	return inference.NewEngine(&fakeRuntime{session: session}, 1250)
}

func declaredModel(w int) *fakeSession {
	return &fakeSession{
		inputName:     "input_signal",
		outputName:    "sbp_dbp",
		declaredShape: []int64{1, 1, int64(w)},
		acceptShape:   []int64{1, 1, int64(w)},
		out:           [2]float32{120, 80},
	}
}

func TestEngine_LoadGarbageBlob(t *testing.T) {
	engine := newTestEngine(declaredModel(120))

	_, err := engine.Load([]byte("мусор, а не модель"))

	var loadErr *inference.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, inference.StateUnloaded, engine.State(), "после неудачной загрузки движок остается Unloaded")
}

func TestEngine_LoadValidModel(t *testing.T) {
	engine := newTestEngine(declaredModel(120))

	handle, err := engine.Load([]byte("ONNX..."))

	require.NoError(t, err)
	assert.Equal(t, "input_signal", handle.InputName)
	assert.Equal(t, "sbp_dbp", handle.OutputName)
	assert.Equal(t, inference.StateLoaded, engine.State())
}

func TestEngine_ResolveShapeFromMetadata(t *testing.T) {
	tests := []struct {
		name       string
		declared   []int64
		wantSize   int
		wantLayout inference.Layout
	}{
		{"одноканальная [1,1,120]", []int64{1, 1, 120}, 120, inference.LayoutSingleChannel},
		{"двухканальная [1,2,250]", []int64{1, 2, 250}, 250, inference.LayoutDualChannel},
		{"плоская [1,600]", []int64{1, 600}, 600, inference.LayoutFlat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := declaredModel(120)
			session.declaredShape = tt.declared
			session.acceptShape = tt.declared

			engine := newTestEngine(session)
			_, err := engine.Load([]byte("ONNX..."))
			require.NoError(t, err)

			require.NoError(t, engine.ResolveShape(2000))

			handle := engine.Handle()
			assert.Equal(t, tt.wantSize, handle.WindowSize)
			assert.Equal(t, tt.wantLayout, handle.Layout)
			assert.Equal(t, inference.StateConfigured, engine.State())
		})
	}
}

func TestEngine_ProbeFallbackRecoversSizeFromErrorText(t *testing.T) {
	// Модель без метаданных, принимает только [1,1,120]: перебор кандидатов
	// должен вытащить 120 из текста ошибки и переконфигурироваться
	session := declaredModel(120)
	session.declaredShape = nil

	engine := newTestEngine(session)
	_, err := engine.Load([]byte("ONNX..."))
	require.NoError(t, err)

	require.NoError(t, engine.ResolveShape(1800))

	handle := engine.Handle()
	assert.Equal(t, 120, handle.WindowSize)
	assert.Equal(t, inference.LayoutSingleChannel, handle.Layout)
	assert.Equal(t, inference.StateConfigured, engine.State())
}

func TestEngine_ProbeFallbackExhaustion(t *testing.T) {
	// Модель без метаданных, не принимающая ничего и не называющая размер
	session := &fakeSession{
		inputName:  "input_signal",
		outputName: "sbp_dbp",
		// acceptShape пуст: любой Run вернет ошибку без слова expected
	}
	session.acceptShape = []int64{9, 9, 9, 9}

	engine := newTestEngine(session)
	_, err := engine.Load([]byte("ONNX..."))
	require.NoError(t, err)

	err = engine.ResolveShape(1800)

	var shapeErr *inference.ShapeResolutionError
	require.ErrorAs(t, err, &shapeErr)
	assert.NotEmpty(t, shapeErr.Tried)
	assert.Equal(t, inference.StateFailed, engine.State())
}

func TestEngine_RunScenarioA(t *testing.T) {
	// 1800 отсчетов (60 с на 30 Гц), окно 120, шаг 30 → 57 окон
	engine := newTestEngine(declaredModel(120))
	_, err := engine.Load([]byte("ONNX..."))
	require.NoError(t, err)
	require.NoError(t, engine.ResolveShape(1800))

	signal := make([]float64, 1800)
	agg, err := engine.Run(context.Background(), signal, inference.RunOptions{Stride: 30})

	require.NoError(t, err)
	assert.Equal(t, 57, agg.WindowCount)
	assert.Len(t, agg.PerWindow, 57)
	assert.Equal(t, inference.StateCompleted, engine.State())
}

func TestEngine_RunInsufficientSignal(t *testing.T) {
	engine := newTestEngine(declaredModel(120))
	_, err := engine.Load([]byte("ONNX..."))
	require.NoError(t, err)
	require.NoError(t, engine.ResolveShape(100))

	_, err = engine.Run(context.Background(), make([]float64, 100), inference.RunOptions{})

	var insufficient *inference.InsufficientSignalError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 120, insufficient.Required)
	assert.Equal(t, 100, insufficient.Available)
	assert.Equal(t, inference.StateFailed, engine.State())
}

func TestEngine_RunDefaultStride(t *testing.T) {
	// Шаг по умолчанию max(1, W/4): 120/4 = 30
	engine := newTestEngine(declaredModel(120))
	_, err := engine.Load([]byte("ONNX..."))
	require.NoError(t, err)
	require.NoError(t, engine.ResolveShape(1800))

	agg, err := engine.Run(context.Background(), make([]float64, 1800), inference.RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 30, agg.Stride)
	assert.Equal(t, 57, agg.WindowCount)
}

func TestEngine_RunDualChannelDuplicatesWindow(t *testing.T) {
	session := declaredModel(120)
	session.declaredShape = []int64{1, 2, 120}
	session.acceptShape = []int64{1, 2, 120}

	engine := newTestEngine(session)
	_, err := engine.Load([]byte("ONNX..."))
	require.NoError(t, err)
	require.NoError(t, engine.ResolveShape(600))

	agg, err := engine.Run(context.Background(), make([]float64, 600), inference.RunOptions{})

	require.NoError(t, err)
	assert.Greater(t, agg.WindowCount, 0)
}

func TestEngine_RunCancellation(t *testing.T) {
	engine := newTestEngine(declaredModel(120))
	_, err := engine.Load([]byte("ONNX..."))
	require.NoError(t, err)
	require.NoError(t, engine.ResolveShape(6000))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // отменяем заранее: прогон обязан прерваться на первой точке уступки

	_, err = engine.Run(ctx, make([]float64, 6000), inference.RunOptions{Stride: 1})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, inference.StateFailed, engine.State())

	// Handle переживает отмену: повторный прогон с живым контекстом работает
	agg, err := engine.Run(context.Background(), make([]float64, 600), inference.RunOptions{})
	require.NoError(t, err)
	assert.Greater(t, agg.WindowCount, 0)
	assert.Equal(t, inference.StateCompleted, engine.State())
}

func TestEngine_MidRunModelFailureAborts(t *testing.T) {
	session := declaredModel(120)
	engine := newTestEngine(session)
	_, err := engine.Load([]byte("ONNX..."))
	require.NoError(t, err)
	require.NoError(t, engine.ResolveShape(1800))

	// Ломаем модель после конфигурации: все вызовы Run начнут падать
	session.acceptShape = []int64{1, 1, 999}

	_, err = engine.Run(context.Background(), make([]float64, 1800), inference.RunOptions{})

	require.Error(t, err)
	assert.Equal(t, inference.StateFailed, engine.State())
}

func TestWindowCount_Law(t *testing.T) {
	// floor((N-W)/S) + 1
	tests := []struct {
		n, w, s, want int
	}{
		{1800, 120, 30, 57},
		{300, 120, 30, 7},
		{120, 120, 30, 1},
		{119, 120, 30, 0},
		{1250, 1250, 312, 1},
		{100, 10, 1, 91},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, inference.WindowCount(tt.n, tt.w, tt.s),
			"N=%d W=%d S=%d", tt.n, tt.w, tt.s)
	}
}

func TestAggregate_ConstantPredictions(t *testing.T) {
	perWindow := make([]inference.WindowPrediction, 10)
	for i := range perWindow {
		perWindow[i] = inference.WindowPrediction{SBP: 117, DBP: 76}
	}

	agg := inference.Aggregate(perWindow, 120, 80)

	assert.InDelta(t, 117, agg.MeanSBP, 1e-9)
	assert.InDelta(t, 76, agg.MeanDBP, 1e-9)
	assert.InDelta(t, 0, agg.Dispersion, 1e-9)
	assert.InDelta(t, (math.Abs(117.0-120)+math.Abs(76.0-80))/2, agg.MAE, 1e-9)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	forward := []inference.WindowPrediction{
		{SBP: 110, DBP: 70}, {SBP: 120, DBP: 80}, {SBP: 130, DBP: 90},
	}
	backward := []inference.WindowPrediction{
		{SBP: 130, DBP: 90}, {SBP: 120, DBP: 80}, {SBP: 110, DBP: 70},
	}

	a := inference.Aggregate(forward, 120, 80)
	b := inference.Aggregate(backward, 120, 80)

	assert.InDelta(t, a.MeanSBP, b.MeanSBP, 1e-9)
	assert.InDelta(t, a.MeanDBP, b.MeanDBP, 1e-9)
	assert.InDelta(t, a.Dispersion, b.Dispersion, 1e-9)
}

func TestResolveGroundTruth_Order(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	// Дефолт
	sbp, dbp := inference.ResolveGroundTruth(nil, nil, nil, nil)
	assert.Equal(t, 120.0, sbp)
	assert.Equal(t, 80.0, dbp)

	// Сохраненное в сессии
	sbp, dbp = inference.ResolveGroundTruth(nil, nil, f(135), f(85))
	assert.Equal(t, 135.0, sbp)
	assert.Equal(t, 85.0, dbp)

	// Явное переопределение сильнее сессии
	sbp, dbp = inference.ResolveGroundTruth(f(140), f(95), f(135), f(85))
	assert.Equal(t, 140.0, sbp)
	assert.Equal(t, 95.0, dbp)
}
