package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// Event is one flat field-per-metric payload as emitted by the wireless
// gateway. Keys carry the ingestion wire names (addr, counter,
// x_velocity_mm_sec, ...).
type Event map[string]any

// EventNormalizer maps gateway events onto readings 1:1 by field name.
type EventNormalizer struct {
	seq *Sequencer
}

func NewEventNormalizer(seq *Sequencer) *EventNormalizer {
	if seq == nil {
		seq = NewSequencer()
	}
	return &EventNormalizer{seq: seq}
}

func (n *EventNormalizer) Normalize(ev Event) (domain.Reading, error) {
	addr, _ := ev["addr"].(string)
	if strings.TrimSpace(addr) == "" {
		return domain.Reading{}, domain.ErrMissingAddress
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	var r domain.Reading
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.Reading{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	r.DeviceAddress = strings.TrimSpace(addr)

	if ev["counter"] != nil {
		n.seq.Observe(r.DeviceAddress, r.SequenceCounter)
	} else {
		r.SequenceCounter = n.seq.Next(r.DeviceAddress)
	}
	return r, nil
}

var _ ports.Normalizer[Event] = (*EventNormalizer)(nil)
