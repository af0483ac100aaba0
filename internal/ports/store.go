package ports

import (
	"context"
	"errors"
	"time"

	"github.com/ladiesman540/crane-platform/internal/domain"
)

// ErrDuplicate is returned by Accept when the (device, counter) pair exists.
var ErrDuplicate = errors.New("duplicate reading")

// ErrNotFound is returned when a query matches nothing.
var ErrNotFound = errors.New("not found")

// ReadingStore is the durable side of the idempotency gate. Accept must be
// atomic per (device address, sequence counter).
type ReadingStore interface {
	Accept(ctx context.Context, sensorID string, r domain.Reading, at time.Time) (domain.AcceptedReading, error)
	// Recent returns up to limit readings for a sensor, newest first.
	Recent(ctx context.Context, sensorID string, limit int) ([]domain.AcceptedReading, error)
	Close() error
}
