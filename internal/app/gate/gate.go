package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/alerts"
	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// ErrUnknownSensor is returned when a sensor registry is configured and the
// device address is not in it.
var ErrUnknownSensor = errors.New("sensor not registered")

const alertTimeout = 5 * time.Second

// Gate is the ingestion idempotency gate. Accepting a reading and
// broadcasting it happen under one lock, so live sessions see readings in
// acceptance order.
type Gate struct {
	store   ports.ReadingStore
	live    ports.Broadcaster
	alerts  ports.AlertPublisher
	obs     ports.Observability
	sensors map[string]string
	now     func() time.Time

	mu sync.Mutex
}

type Option func(*Gate)

// WithSensors installs an address to sensor id registry.
func WithSensors(m map[string]string) Option {
	return func(g *Gate) {
		if len(m) > 0 {
			g.sensors = m
		}
	}
}

func WithAlerts(p ports.AlertPublisher) Option {
	return func(g *Gate) { g.alerts = p }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(store ports.ReadingStore, live ports.Broadcaster, obs ports.Observability, opts ...Option) *Gate {
	g := &Gate{store: store, live: live, obs: obs, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SensorID resolves the sensor identifier for a device address.
func (g *Gate) SensorID(addr string) (string, error) {
	if g.sensors == nil {
		return addr, nil
	}
	id, ok := g.sensors[addr]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSensor, addr)
	}
	return id, nil
}

// Ingest accepts r on first sight of its (device, counter) pair and returns
// ports.ErrDuplicate otherwise.
func (g *Gate) Ingest(ctx context.Context, r domain.Reading) (domain.AcceptedReading, error) {
	r.DeviceAddress = strings.TrimSpace(r.DeviceAddress)
	if r.DeviceAddress == "" {
		return domain.AcceptedReading{}, domain.ErrMissingAddress
	}
	sensorID, err := g.SensorID(r.DeviceAddress)
	if err != nil {
		return domain.AcceptedReading{}, err
	}

	g.mu.Lock()
	a, err := g.store.Accept(ctx, sensorID, r, g.now())
	if err == nil {
		g.live.Broadcast(domain.NewLiveEvent(a))
	}
	g.mu.Unlock()

	switch {
	case errors.Is(err, ports.ErrDuplicate):
		g.obs.IncCounter(observability.GateDuplicate, 1)
		g.obs.LogDebug("duplicate reading", ports.F("device", r.DeviceAddress), ports.F("counter", r.SequenceCounter))
		return domain.AcceptedReading{}, err
	case err != nil:
		return domain.AcceptedReading{}, fmt.Errorf("accept reading: %w", err)
	}

	g.obs.IncCounter(observability.GateAccepted, 1)
	g.raiseAlert(ctx, a)
	return a, nil
}

func (g *Gate) raiseAlert(ctx context.Context, a domain.AcceptedReading) {
	if g.alerts == nil {
		return
	}
	alert, ok := alerts.Build(a, g.now())
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if err := g.alerts.PublishAlert(ctx, alert); err != nil {
		g.obs.LogError("alert publish failed", err, ports.F("sensor", a.SensorID), ports.F("severity", alert.Severity))
	}
}

// Recent returns up to limit readings for a sensor, newest first.
func (g *Gate) Recent(ctx context.Context, sensorID string, limit int) ([]domain.AcceptedReading, error) {
	return g.store.Recent(ctx, sensorID, limit)
}

// Latest returns the newest reading for a sensor or ports.ErrNotFound.
func (g *Gate) Latest(ctx context.Context, sensorID string) (domain.AcceptedReading, error) {
	list, err := g.store.Recent(ctx, sensorID, 1)
	if err != nil {
		return domain.AcceptedReading{}, err
	}
	if len(list) == 0 {
		return domain.AcceptedReading{}, ports.ErrNotFound
	}
	return list[0], nil
}
