package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

const DefaultSubject = "crane.alerts"

type natsConn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes alerts as JSON on <subject>.<severity>.
type NATSPublisher struct {
	conn    natsConn
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("crane-ingest"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	p := newNATSPublisher(nc, subject)
	p.nc = nc
	return p, nil
}

func newNATSPublisher(conn natsConn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) PublishAlert(_ context.Context, a domain.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	subj := p.subject + "." + a.Severity
	if err := p.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

var _ ports.AlertPublisher = (*NATSPublisher)(nil)
