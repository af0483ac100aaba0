package crane

import (
	"slices"
	"sync"
	"time"

	"github.com/ladiesman540/crane-platform/internal/domain"
)

// Merger joins a one-shot snapshot with the live stream into one bounded
// timeline per sensor.
type Merger struct {
	mu        sync.RWMutex
	capacity  int
	timelines map[string]*Timeline
}

func NewMerger(capacity int) *Merger {
	return &Merger{capacity: capacity, timelines: make(map[string]*Timeline)}
}

func (m *Merger) timeline(sensorID string) *Timeline {
	t, ok := m.timelines[sensorID]
	if !ok {
		t = NewTimeline(m.capacity)
		m.timelines[sensorID] = t
	}
	return t
}

// LoadSnapshot replaces a sensor's timeline with a newest-first snapshot as
// returned by the readings query.
func (m *Merger) LoadSnapshot(sensorID string, newestFirst []domain.AcceptedReading) {
	entries := make([]Entry, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		e := EntryFromAccepted(newestFirst[i])
		if e.SensorID == "" {
			e.SensorID = sensorID
		}
		entries = append(entries, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline(sensorID).ReplaceAll(entries)
}

// HandleEvent appends a live reading stamped with its receipt time. It
// reports false when the reading is already on the timeline.
func (m *Merger) HandleEvent(ev domain.LiveEvent, receivedAt time.Time) bool {
	if ev.SensorID == "" {
		return false
	}
	e := Entry{
		ID:       ev.ReadingID,
		SensorID: ev.SensorID,
		At:       receivedAt,
		Zone:     ev.Zone,
		Reading:  ev.Reading,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeline(ev.SensorID).AppendOne(e)
}

// Timeline returns a copy of a sensor's entries, oldest first.
func (m *Merger) Timeline(sensorID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.timelines[sensorID]
	if !ok {
		return nil
	}
	return t.Entries()
}

func (m *Merger) Latest(sensorID string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.timelines[sensorID]
	if !ok {
		return Entry{}, false
	}
	return t.Last()
}

// Status grades a sensor by its newest entry.
func (m *Merger) Status(sensorID string, now time.Time) Status {
	last, ok := m.Latest(sensorID)
	if !ok {
		return Status{Level: StatusOffline}
	}
	return StatusAt(now, last.At)
}

// Sensors lists known sensor ids in sorted order.
func (m *Merger) Sensors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.timelines))
	for id := range m.timelines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
