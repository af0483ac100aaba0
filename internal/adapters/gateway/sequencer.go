package gateway

import (
	"sync"
	"time"
)

// Sequencer hands out per-device counters for payloads that arrive without
// one. Counters are based on the wall clock in milliseconds, so a restarted
// bridge continues above what it handed out before instead of repeating
// counters the gate already holds. A device that outpaces the clock, or
// whose payloads carried higher counters, continues at last+1.
type Sequencer struct {
	mu   sync.Mutex
	last map[string]int64
	now  func() time.Time
}

type SequencerOption func(*Sequencer)

// WithClock replaces the clock the fallback counters are based on.
func WithClock(now func() time.Time) SequencerOption {
	return func(s *Sequencer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSequencer(opts ...SequencerOption) *Sequencer {
	s := &Sequencer{last: make(map[string]int64), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next counter for addr.
func (s *Sequencer) Next(addr string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.last[addr] + 1
	if base := s.now().UnixMilli(); base > next {
		next = base
	}
	s.last[addr] = next
	return next
}

// Observe records a counter carried by the payload itself.
func (s *Sequencer) Observe(addr string, counter int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counter > s.last[addr] {
		s.last[addr] = counter
	}
}

// Seed starts a device's sequence after start.
func (s *Sequencer) Seed(addr string, start int64) {
	s.Observe(addr, start)
}
