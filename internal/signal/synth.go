package signal

import (
	"math"
	"math/rand"
)

// Generator генерирует синтетический PPG сигнал: кардиальная синусоида на
// целевой частоте пульса + медленная дыхательная синусоида + небольшой шум.
// Подставляется вместо сырых отсчетов, когда устройство сообщает о
// недоступности источника (камера закрыта, нет контакта) — запись при этом
// продолжается.
type Generator struct {
	rateHz   float64
	hrBPM    float64
	respHz   float64
	noiseAmp float64
	n        int
	rng      *rand.Rand
}

// NewGenerator rateHz=30, hrBPM типично 60-100, noiseAmp ~0.0-0.1
func NewGenerator(rateHz, hrBPM, noiseAmp float64, seed int64) *Generator {
	return &Generator{
		rateHz:   rateHz,
		hrBPM:    hrBPM,
		respHz:   0.25, // ~15 дыханий в минуту
		noiseAmp: noiseAmp,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Next возвращает следующий отсчет и продвигает время
func (g *Generator) Next() float64 {
	t := float64(g.n) / g.rateHz
	g.n++

	cardiac := 5.0 * math.Sin(2*math.Pi*(g.hrBPM/60.0)*t)
	resp := 1.5 * math.Sin(2*math.Pi*g.respHz*t)
	noise := g.noiseAmp * (2*g.rng.Float64() - 1)

	// Базовая линия имитирует среднюю интенсивность кадра камеры
	return 128.0 + cardiac + resp + noise
}

// Sequence генерирует len отсчетов подряд
func (g *Generator) Sequence(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}
