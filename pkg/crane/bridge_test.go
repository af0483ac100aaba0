package crane

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/app/config"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

type stubSource struct {
	readings []domain.Reading
	sent     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopped  bool
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Start(out chan<- domain.Reading) error {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for _, r := range s.readings {
			select {
			case out <- r:
			case <-s.stop:
				return
			}
		}
		if s.sent != nil {
			close(s.sent)
		}
	}()
	return nil
}

func (s *stubSource) Stop() error {
	close(s.stop)
	<-s.done
	s.stopped = true
	return nil
}

type stubSubmitter struct {
	mu   sync.Mutex
	seen map[string][]int64
}

func (s *stubSubmitter) Submit(_ context.Context, r domain.Reading) domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[r.DeviceAddress] = append(s.seen[r.DeviceAddress], r.SequenceCounter)
	return domain.Outcome{Kind: domain.OutcomeAccepted, ReadingID: "1"}
}

func testConfig() *config.Config {
	return &config.Config{
		Policy: ports.Policy{Lanes: 4, MaxQueueLen: 64, MaxBatchSize: 8, IdleSleep: time.Millisecond, OnQueueFull: "block"},
	}
}

func TestNewBridgeUsesOverrides(t *testing.T) {
	sub := &stubSubmitter{seen: map[string][]int64{}}
	obs := observability.Nop{}
	b, err := NewBridge(testConfig(), &stubSource{}, WithSubmitter(sub), WithObservability(obs))
	if err != nil {
		t.Fatalf("NewBridge returned error: %v", err)
	}
	if b.submitter != sub {
		t.Fatalf("expected custom submitter to be used")
	}
	if b.Observability() != obs {
		t.Fatalf("expected custom observability to be used")
	}
	if b.metrics != nil {
		t.Fatalf("expected no metrics handler without a registry")
	}

	if _, err := NewBridge(nil, &stubSource{}); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := NewBridge(testConfig(), nil); err == nil {
		t.Fatalf("expected error for nil source")
	}
}

func TestBridgeRunDeliversPerDeviceInOrder(t *testing.T) {
	var readings []domain.Reading
	for i := int64(1); i <= 20; i++ {
		readings = append(readings,
			domain.Reading{DeviceAddress: "D1", SequenceCounter: i},
			domain.Reading{DeviceAddress: "D2", SequenceCounter: i},
		)
	}
	src := &stubSource{readings: readings}
	sub := &stubSubmitter{seen: map[string][]int64{}}

	var mu sync.Mutex
	outcomes := 0
	b, err := NewBridge(testConfig(), src,
		WithSubmitter(sub),
		WithObservability(observability.Nop{}),
		WithOutcomeHandler(func(domain.Reading, domain.Outcome) {
			mu.Lock()
			outcomes++
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := outcomes
		mu.Unlock()
		if n == len(readings) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d outcomes, got %d", len(readings), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if !src.stopped {
		t.Fatalf("expected source to be stopped")
	}
	for dev, counters := range sub.seen {
		for i, c := range counters {
			if c != int64(i+1) {
				t.Fatalf("%s submitted out of order: %v", dev, counters)
			}
		}
	}
}

type failingSource struct{ stubSource }

func (f *failingSource) Start(chan<- domain.Reading) error { return errors.New("port busy") }

func TestBridgeRunFailsWhenSourceCannotStart(t *testing.T) {
	b, err := NewBridge(testConfig(), &failingSource{}, WithSubmitter(&stubSubmitter{}), WithObservability(observability.Nop{}))
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	if err := b.Run(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
}

func TestNewSourceKinds(t *testing.T) {
	cfg := testConfig()
	cfg.Bridge.Simulator.Interval = time.Second
	src, err := NewSource(config.SourceSimulate, cfg, observability.Nop{})
	if err != nil || src.Name() != "simulator" {
		t.Fatalf("expected simulator source, got %v %v", src, err)
	}
	if _, err := NewSource("carrier-pigeon", cfg, observability.Nop{}); err == nil {
		t.Fatalf("expected unknown source error")
	}
}

type slowSubmitter struct {
	stubSubmitter
	delay time.Duration
}

func (s *slowSubmitter) Submit(ctx context.Context, r domain.Reading) domain.Outcome {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return domain.Outcome{Kind: domain.OutcomeTransportFailure, Detail: ctx.Err().Error()}
	}
	return s.stubSubmitter.Submit(ctx, r)
}

type countingObs struct {
	observability.Nop
	mu       sync.Mutex
	counters map[string]float64
}

func (o *countingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counters == nil {
		o.counters = map[string]float64{}
	}
	o.counters[name] += v
}

func (o *countingObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func TestBridgeShutdownSubmitsQueuedReadings(t *testing.T) {
	var readings []domain.Reading
	for i := int64(1); i <= 30; i++ {
		readings = append(readings, domain.Reading{DeviceAddress: "D1", SequenceCounter: i})
	}
	src := &stubSource{readings: readings, sent: make(chan struct{})}
	sub := &slowSubmitter{stubSubmitter: stubSubmitter{seen: map[string][]int64{}}, delay: 2 * time.Millisecond}
	cfg := testConfig()
	cfg.Policy.Lanes = 1

	b, err := NewBridge(cfg, src, WithSubmitter(sub), WithObservability(observability.Nop{}))
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	<-src.sent
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	got := sub.seen["D1"]
	if len(got) != len(readings) {
		t.Fatalf("expected %d submissions after shutdown, got %d", len(readings), len(got))
	}
	for i, c := range got {
		if c != int64(i+1) {
			t.Fatalf("submission %d carried counter %d", i, c)
		}
	}
}

func TestBridgeShutdownDrainIsBounded(t *testing.T) {
	var readings []domain.Reading
	for i := int64(1); i <= 10; i++ {
		readings = append(readings, domain.Reading{DeviceAddress: "D1", SequenceCounter: i})
	}
	src := &stubSource{readings: readings, sent: make(chan struct{})}
	sub := &slowSubmitter{stubSubmitter: stubSubmitter{seen: map[string][]int64{}}, delay: time.Hour}
	obs := &countingObs{}
	cfg := testConfig()
	cfg.Policy.Lanes = 1
	cfg.Bridge.Timeout = 50 * time.Millisecond

	b, err := NewBridge(cfg, src, WithSubmitter(sub), WithObservability(obs))
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	<-src.sent
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run blocked past the drain deadline")
	}
	if obs.counter(observability.QueueDropped) == 0 {
		t.Fatalf("expected dropped readings to be counted")
	}
}
