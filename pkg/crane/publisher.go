package crane

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ladiesman540/crane-platform/internal/adapters/gateway"
	"github.com/ladiesman540/crane-platform/internal/domain"
)

// ErrPublisherClosed is returned by Publish once the publisher is stopped or
// before the bridge has started it.
var ErrPublisherClosed = errors.New("crane: publisher closed")

// Publisher is a Source fed by the embedding program. Readings without a
// counter are numbered per device the same way gateway events are.
type Publisher struct {
	name string
	seq  *gateway.Sequencer
	stop chan struct{}
	once sync.Once

	mu  sync.RWMutex
	out chan<- domain.Reading
}

func NewPublisher(name string) *Publisher {
	if name == "" {
		name = "publisher"
	}
	return &Publisher{name: name, seq: gateway.NewSequencer(), stop: make(chan struct{})}
}

func (p *Publisher) Name() string { return p.name }

func (p *Publisher) Start(out chan<- domain.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		return errors.New("publisher already started")
	}
	p.out = out
	return nil
}

// Publish hands r to the bridge, blocking while its lanes are full.
func (p *Publisher) Publish(ctx context.Context, r domain.Reading) error {
	r.DeviceAddress = strings.TrimSpace(r.DeviceAddress)
	if r.DeviceAddress == "" {
		return domain.ErrMissingAddress
	}

	p.mu.RLock()
	out := p.out
	p.mu.RUnlock()
	if out == nil {
		return ErrPublisherClosed
	}
	select {
	case <-p.stop:
		return ErrPublisherClosed
	default:
	}

	if r.SequenceCounter == 0 {
		r.SequenceCounter = p.seq.Next(r.DeviceAddress)
	} else {
		p.seq.Observe(r.DeviceAddress, r.SequenceCounter)
	}
	select {
	case out <- r:
		return nil
	case <-p.stop:
		return ErrPublisherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unblocks pending Publish calls; the publisher cannot be restarted.
func (p *Publisher) Stop() error {
	p.once.Do(func() { close(p.stop) })
	return nil
}
