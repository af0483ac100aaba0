package crane

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 3 * time.Second

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Conn is the read side of a live channel connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens live channel connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials the gate's websocket endpoint.
type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return wsConn{c}, nil
}

type wsConn struct{ *websocket.Conn }

func (c wsConn) ReadMessage() ([]byte, error) {
	_, p, err := c.Conn.ReadMessage()
	return p, err
}

// EventHandler receives every well-formed reading event.
type EventHandler func(ev domain.LiveEvent)

type SubscriberOption func(*Subscriber)

func WithDialer(d Dialer) SubscriberOption {
	return func(s *Subscriber) { s.dialer = d }
}

func WithReconnectDelay(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.delay = d
		}
	}
}

// OnStateChange registers a callback invoked on every state transition.
func OnStateChange(fn func(ConnState)) SubscriberOption {
	return func(s *Subscriber) { s.onState = fn }
}

func WithSubscriberObservability(obs ports.Observability) SubscriberOption {
	return func(s *Subscriber) { s.obs = obs }
}

// Subscriber holds a live channel connection open for as long as its
// context lives, reconnecting after a fixed delay whenever it drops.
type Subscriber struct {
	url     string
	handler EventHandler
	dialer  Dialer
	delay   time.Duration
	onState func(ConnState)
	obs     ports.Observability

	mu    sync.Mutex
	state ConnState
}

func NewSubscriber(url string, handler EventHandler, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		url:     url,
		handler: handler,
		dialer:  WSDialer{},
		delay:   DefaultReconnectDelay,
		obs:     observability.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Subscriber) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(next ConnState) {
	s.mu.Lock()
	changed := s.state != next
	s.state = next
	s.mu.Unlock()
	if changed && s.onState != nil {
		s.onState(next)
	}
}

// Run connects, reads and reconnects until ctx is cancelled. It returns
// ctx.Err() with no timer left pending.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		s.setState(StateConnecting)
		conn, err := s.dialer.Dial(ctx, s.url)
		if err != nil {
			if ctx.Err() == nil {
				s.obs.LogWarn("live channel connect failed", ports.F("url", s.url), ports.F("error", err.Error()))
			}
		} else {
			s.setState(StateConnected)
			s.obs.LogInfo("live channel connected", ports.F("url", s.url))
			s.read(ctx, conn)
		}
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Subscriber) read(ctx context.Context, conn Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.obs.LogWarn("live channel dropped", ports.F("error", err.Error()))
			}
			return
		}
		s.dispatch(payload)
	}
}

func (s *Subscriber) dispatch(payload []byte) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.obs.LogDebug("live payload dropped", ports.F("reason", "malformed"))
		return
	}
	if envelope.Event != domain.EventSensorReading {
		return
	}
	var ev domain.LiveEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.obs.LogDebug("live payload dropped", ports.F("reason", err.Error()))
		return
	}
	if s.handler != nil {
		s.handler(ev)
	}
}
