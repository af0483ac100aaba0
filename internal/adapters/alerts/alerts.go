package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// DefaultCooldown matches the default alert rule cooldown of one hour.
const DefaultCooldown = 60 * time.Minute

// Build returns the alert for an accepted reading, or false when its zone
// does not warrant one.
func Build(a domain.AcceptedReading, now time.Time) (domain.Alert, bool) {
	zone := domain.ZoneOf(a.Reading)
	severity := domain.SeverityFor(zone)
	if severity == "" {
		return domain.Alert{}, false
	}
	v := *a.Reading.MaxVelocity()
	return domain.Alert{
		SensorID:    a.SensorID,
		Device:      a.Reading.DeviceAddress,
		ReadingID:   a.ID,
		Zone:        zone,
		Severity:    severity,
		MaxVelocity: v,
		Message:     fmt.Sprintf("%s vibration %.2f mm/s in zone %s (%s)", a.SensorID, v, zone, zone.Level()),
		CreatedAt:   now.UTC(),
	}, true
}

// LogPublisher writes alerts to the log; used when no broker is configured.
type LogPublisher struct {
	Obs ports.Observability
}

func (p LogPublisher) PublishAlert(_ context.Context, a domain.Alert) error {
	p.Obs.LogWarn("sensor alert",
		ports.F("sensor", a.SensorID), ports.F("severity", a.Severity),
		ports.F("zone", a.Zone.String()), ports.F("velocity", a.MaxVelocity))
	return nil
}

// Throttle suppresses repeats of the same severity for a sensor inside the
// cooldown window.
type Throttle struct {
	next     ports.AlertPublisher
	obs      ports.Observability
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewThrottle(next ports.AlertPublisher, cooldown time.Duration, obs ports.Observability) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Throttle{next: next, obs: obs, cooldown: cooldown, now: time.Now, last: map[string]time.Time{}}
}

func (t *Throttle) PublishAlert(ctx context.Context, a domain.Alert) error {
	key := a.SensorID + "|" + a.Severity
	now := t.now()

	t.mu.Lock()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		return nil
	}
	t.last[key] = now
	t.mu.Unlock()

	if err := t.next.PublishAlert(ctx, a); err != nil {
		t.mu.Lock()
		delete(t.last, key)
		t.mu.Unlock()
		return err
	}
	t.obs.IncCounter(observability.AlertsPublished, 1)
	return nil
}

var (
	_ ports.AlertPublisher = LogPublisher{}
	_ ports.AlertPublisher = (*Throttle)(nil)
)
