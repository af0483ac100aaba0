package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// DefaultRetention bounds how many readings per sensor the in-process stores
// keep for queries. Idempotency keys are never evicted.
const DefaultRetention = 1000

type readingKey struct {
	addr    string
	counter int64
}

// MemoryStore accepts readings in process. An optional persist hook runs
// under the store lock before a reading becomes visible; if it fails the
// reading is not accepted.
type MemoryStore struct {
	mu        sync.Mutex
	seen      map[readingKey]struct{}
	bySensor  map[string][]domain.AcceptedReading
	lastID    uint64
	retention int
	persist   func(domain.AcceptedReading) error
}

func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		seen:      make(map[readingKey]struct{}),
		bySensor:  make(map[string][]domain.AcceptedReading),
		retention: retention,
	}
}

func (m *MemoryStore) Accept(_ context.Context, sensorID string, r domain.Reading, at time.Time) (domain.AcceptedReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := readingKey{r.DeviceAddress, r.SequenceCounter}
	if _, dup := m.seen[key]; dup {
		return domain.AcceptedReading{}, ports.ErrDuplicate
	}
	id := m.lastID + 1
	a := domain.AcceptedReading{
		ID:         domain.ReadingID(strconv.FormatUint(id, 10)),
		SensorID:   sensorID,
		AcceptedAt: at.UTC(),
		Reading:    r,
	}
	if m.persist != nil {
		if err := m.persist(a); err != nil {
			return domain.AcceptedReading{}, fmt.Errorf("persist reading: %w", err)
		}
	}
	m.lastID = id
	m.recordLocked(a)
	return a, nil
}

// restore loads a previously accepted reading, keeping its id.
func (m *MemoryStore) restore(a domain.AcceptedReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, err := strconv.ParseUint(string(a.ID), 10, 64); err == nil && n > m.lastID {
		m.lastID = n
	}
	m.recordLocked(a)
}

func (m *MemoryStore) recordLocked(a domain.AcceptedReading) {
	m.seen[readingKey{a.Reading.DeviceAddress, a.Reading.SequenceCounter}] = struct{}{}
	list := append(m.bySensor[a.SensorID], a)
	if len(list) > m.retention {
		list = append(list[:0:0], list[len(list)-m.retention:]...)
	}
	m.bySensor[a.SensorID] = list
}

func (m *MemoryStore) Recent(_ context.Context, sensorID string, limit int) ([]domain.AcceptedReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.bySensor[sensorID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]domain.AcceptedReading, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ ports.ReadingStore = (*MemoryStore)(nil)
