package ports

import "github.com/ladiesman540/crane-platform/internal/domain"

// Normalizer turns one transport-specific payload into a canonical reading.
// Payloads that must be dropped return an error wrapping domain.ErrDiscard.
type Normalizer[T any] interface {
	Normalize(raw T) (domain.Reading, error)
}

// NormalizerFunc adapts a plain function to Normalizer.
type NormalizerFunc[T any] func(raw T) (domain.Reading, error)

func (f NormalizerFunc[T]) Normalize(raw T) (domain.Reading, error) { return f(raw) }

// Source is a long-lived adapter that pushes normalized readings, per device
// in production order, into out until stopped.
type Source interface {
	Name() string
	Start(out chan<- domain.Reading) error
	Stop() error
}
