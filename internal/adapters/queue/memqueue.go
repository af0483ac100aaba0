package queue

import (
	"sync"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering. A
// dispatcher lane owns one MemQueue, so a device's readings leave in the
// order they arrived.
type MemQueue struct {
	mu     sync.Mutex
	data   []domain.Reading
	cap    int
	notify chan struct{}
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		data:   make([]domain.Reading, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

func (q *MemQueue) Enqueue(r domain.Reading) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, r)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *MemQueue) DequeueBatch(max int) []domain.Reading {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]domain.Reading, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Ready is signalled after an enqueue so a drainer can stop idling early.
func (q *MemQueue) Ready() <-chan struct{} { return q.notify }

var _ ports.ReadingQueue = (*MemQueue)(nil)
