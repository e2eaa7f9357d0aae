package inference

import "fmt"

// Таксономия ошибок движка инференса. Каждая ошибка соответствует нарушению
// реального предусловия и несет значения, из-за которых запуск прерван —
// дефолты молча не подставляются.

// ModelLoadError блоб не распарсился в исполняемый граф, либо среда
// исполнения его отвергла
type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("не удалось загрузить модель: %v", e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ShapeResolutionError все кандидаты формы входа исчерпаны без успешного
// пробного вызова
type ShapeResolutionError struct {
	Tried   []Candidate
	LastErr error
}

func (e *ShapeResolutionError) Error() string {
	return fmt.Sprintf("не удалось определить форму входа модели: перебрано %d кандидатов, последняя ошибка: %v",
		len(e.Tried), e.LastErr)
}

func (e *ShapeResolutionError) Unwrap() error { return e.LastErr }

// InsufficientSignalError сигнал короче требуемого окна
type InsufficientSignalError struct {
	Required  int
	Available int
}

func (e *InsufficientSignalError) Error() string {
	return fmt.Sprintf("сигнал короче окна модели: требуется %d отсчетов, доступно %d",
		e.Required, e.Available)
}

// NoPredictionsError окна не сгенерированы, хотя длины сигнала хватало.
// По построению цикла не должно случаться — защита от регрессий.
type NoPredictionsError struct {
	SignalLen  int
	WindowSize int
	Stride     int
}

func (e *NoPredictionsError) Error() string {
	return fmt.Sprintf("не получено ни одного предсказания: сигнал %d, окно %d, шаг %d",
		e.SignalLen, e.WindowSize, e.Stride)
}
