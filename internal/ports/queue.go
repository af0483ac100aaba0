package ports

import "github.com/ladiesman540/crane-platform/internal/domain"

// ReadingQueue is a bounded FIFO of readings waiting for submission.
type ReadingQueue interface {
	Enqueue(r domain.Reading) bool
	DequeueBatch(max int) []domain.Reading
	Len() int
}
