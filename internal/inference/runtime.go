package inference

// Контракт внешней среды исполнения моделей. Ядро не делает предположений о
// сериализованном формате модели: блоб парсит коллаборатор, ядро видит только
// именованные входы/выходы и, если повезет, объявленную форму входа.

// Tensor именованный буфер фиксированной формы
type Tensor struct {
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"data"`
}

// ModelRuntime загружает блоб модели в исполняемую сессию
type ModelRuntime interface {
	Load(model []byte) (ModelSession, error)
}

// ModelSession исполняемый граф модели.
// InputShape возвращает nil, если метаданные формы недоступны — тогда движок
// переходит к эмпирическому подбору формы (см. Engine.ResolveShape).
type ModelSession interface {
	Run(inputs map[string]Tensor) (map[string]Tensor, error)
	InputNames() []string
	OutputNames() []string
	InputShape(name string) []int64
	Close() error
}
