package crane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ladiesman540/crane-platform/internal/domain"
)

type fakeConn struct {
	msgs   [][]byte
	hold   bool
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(hold bool, msgs ...[]byte) *fakeConn {
	return &fakeConn{msgs: msgs, hold: hold, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	if len(c.msgs) > 0 {
		m := c.msgs[0]
		c.msgs = c.msgs[1:]
		return m, nil
	}
	if c.hold {
		<-c.closed
		return nil, errors.New("use of closed connection")
	}
	return nil, io.EOF
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// scriptedDialer hands out results in order and fails once exhausted.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *scriptedDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	if c == nil {
		return nil, errors.New("connection refused")
	}
	return c, nil
}

func livePayload(t *testing.T, id string, counter int64) []byte {
	t.Helper()
	b, err := json.Marshal(domain.NewLiveEvent(domain.AcceptedReading{
		ID:       domain.ReadingID(id),
		SensorID: "D1",
		Reading:  domain.Reading{DeviceAddress: "D1", SequenceCounter: counter},
	}))
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func TestSubscriberReconnectsWithoutOperator(t *testing.T) {
	dialer := &scriptedDialer{conns: []*fakeConn{
		nil,
		newFakeConn(false,
			[]byte(`{"event":`),
			[]byte(`{"event":"sensor.deleted","sensor_id":"D1"}`),
			livePayload(t, "1", 101),
		),
		newFakeConn(true, livePayload(t, "2", 102)),
	}}

	var (
		mu     sync.Mutex
		states []ConnState
	)
	events := make(chan domain.LiveEvent, 4)
	sub := NewSubscriber("ws://gate/ws", func(ev domain.LiveEvent) { events <- ev },
		WithDialer(dialer),
		WithReconnectDelay(5*time.Millisecond),
		OnStateChange(func(s ConnState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	for _, want := range []int64{101, 102} {
		select {
		case ev := <-events:
			if ev.Reading.SequenceCounter != want {
				t.Fatalf("expected counter %d, got %d", want, ev.Reading.SequenceCounter)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for counter %d", want)
		}
	}
	if sub.State() != StateConnected {
		t.Fatalf("expected CONNECTED after reconnect, got %s", sub.State())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if len(events) != 0 {
		t.Fatalf("malformed or unknown payloads reached the handler")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []ConnState{
		StateConnecting, StateDisconnected,
		StateConnecting, StateConnected, StateDisconnected,
		StateConnecting, StateConnected, StateDisconnected,
	}
	if len(states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestSubscriberStopsWhileWaiting(t *testing.T) {
	sub := NewSubscriber("ws://gate/ws", nil,
		WithDialer(&scriptedDialer{}),
		WithReconnectDelay(time.Hour),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run kept waiting on the reconnect timer after cancel")
	}
	if sub.State() != StateDisconnected {
		t.Fatalf("expected DISCONNECTED, got %s", sub.State())
	}
}
