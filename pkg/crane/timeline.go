package crane

import (
	"slices"
	"time"

	"github.com/ladiesman540/crane-platform/internal/domain"
)

// DefaultCapacity bounds each sensor timeline.
const DefaultCapacity = 200

// Entry is one point on a sensor timeline.
type Entry struct {
	ID       domain.ReadingID
	SensorID string
	At       time.Time
	Zone     domain.Zone
	Reading  domain.Reading
}

// EntryFromAccepted builds a timeline entry from a stored reading.
func EntryFromAccepted(a domain.AcceptedReading) Entry {
	return Entry{
		ID:       a.ID,
		SensorID: a.SensorID,
		At:       a.AcceptedAt,
		Zone:     domain.ZoneOf(a.Reading),
		Reading:  a.Reading,
	}
}

// Timeline keeps the newest entries of one sensor in ascending time order,
// at most one per reading id. It is not safe for concurrent use; Merger
// serializes access.
type Timeline struct {
	capacity int
	entries  []Entry
}

func NewTimeline(capacity int) *Timeline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Timeline{capacity: capacity}
}

// ReplaceAll swaps the contents for a snapshot. Order of the input does not
// matter; the newest capacity entries are kept.
func (t *Timeline) ReplaceAll(entries []Entry) {
	next := make([]Entry, 0, len(entries))
	seen := make(map[domain.ReadingID]struct{}, len(entries))
	for _, e := range entries {
		if e.ID != "" {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
		}
		next = append(next, e)
	}
	slices.SortStableFunc(next, func(a, b Entry) int { return a.At.Compare(b.At) })
	if len(next) > t.capacity {
		next = next[len(next)-t.capacity:]
	}
	t.entries = next
}

// AppendOne adds e as the newest entry and evicts the oldest beyond
// capacity. An e older than the current newest entry is stamped with that
// entry's time, so live entries stamped by a skewed local clock still land
// after a server-stamped snapshot. It reports false when an entry with the
// same id is present.
func (t *Timeline) AppendOne(e Entry) bool {
	if e.ID != "" && slices.ContainsFunc(t.entries, func(x Entry) bool { return x.ID == e.ID }) {
		return false
	}
	if last, ok := t.Last(); ok && e.At.Before(last.At) {
		e.At = last.At
	}
	t.entries = append(t.entries, e)
	if over := len(t.entries) - t.capacity; over > 0 {
		t.entries = slices.Delete(t.entries, 0, over)
	}
	return true
}

// Entries returns a copy, oldest first.
func (t *Timeline) Entries() []Entry {
	return slices.Clone(t.entries)
}

func (t *Timeline) Len() int { return len(t.entries) }

// Last returns the newest entry.
func (t *Timeline) Last() (Entry, bool) {
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}
