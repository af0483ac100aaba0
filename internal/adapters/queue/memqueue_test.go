package queue

import (
	"testing"

	"github.com/ladiesman540/crane-platform/internal/domain"
)

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	r1 := domain.Reading{DeviceAddress: "D1", SequenceCounter: 1}
	r2 := domain.Reading{DeviceAddress: "D1", SequenceCounter: 2}

	if !q.Enqueue(r1) || !q.Enqueue(r2) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].SequenceCounter != 1 {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].SequenceCounter != 2 {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	r := domain.Reading{DeviceAddress: "cap"}

	if !q.Enqueue(r) || !q.Enqueue(r) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(r) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(r) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}

func TestMemQueueReadySignal(t *testing.T) {
	q := NewMemQueue(2)
	select {
	case <-q.Ready():
		t.Fatalf("no signal expected on empty queue")
	default:
	}
	q.Enqueue(domain.Reading{DeviceAddress: "D1"})
	select {
	case <-q.Ready():
	default:
		t.Fatalf("expected ready signal after enqueue")
	}
}
