package ports

import (
	"context"

	"github.com/ladiesman540/crane-platform/internal/domain"
)

// Broadcaster fans a live event out to every connected session.
type Broadcaster interface {
	Broadcast(ev domain.LiveEvent)
	SessionCount() int
}

// AlertPublisher forwards severity alerts to downstream notification systems.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, a domain.Alert) error
}
