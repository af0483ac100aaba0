package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

func TestEnqueueWithPolicyBlock(t *testing.T) {
	queue := &mockQueue{}
	queue.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(context.Background(), queue, domain.Reading{}, pol, obs); !ok {
		t.Fatalf("expected enqueue to eventually succeed")
	}
	if queue.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", queue.calls)
	}
}

func TestEnqueueWithPolicyBlockHonoursCancel(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := enqueueWithPolicy(ctx, queue, domain.Reading{}, ports.Policy{OnQueueFull: "block"}, &mockObs{}); ok {
		t.Fatalf("expected cancelled enqueue to give up")
	}
}

func TestEnqueueWithPolicyDrop(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	pol := ports.Policy{
		OnQueueFull: "drop",
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(context.Background(), queue, domain.Reading{}, pol, obs); ok {
		t.Fatalf("expected enqueueWithPolicy to fail")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected drop to log an error")
	}
}

func TestDispatcherPreservesPerDeviceOrder(t *testing.T) {
	sub := &recordingSubmitter{}
	d := NewDispatcher(sub, ports.Policy{Lanes: 4, MaxQueueLen: 400, MaxBatchSize: 3, IdleSleep: time.Millisecond, OnQueueFull: "block"}, observability.Nop{}, nil)

	in := make(chan domain.Reading)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), in) }()

	devices := []string{"D1", "D2", "D3", "D4", "D5"}
	for c := int64(1); c <= 40; c++ {
		for _, dev := range devices {
			in <- domain.Reading{DeviceAddress: dev, SequenceCounter: c}
		}
	}
	close(in)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	for _, dev := range devices {
		got := sub.byDevice[dev]
		if len(got) != 40 {
			t.Fatalf("%s: expected 40 submissions, got %d", dev, len(got))
		}
		for i, c := range got {
			if c != int64(i+1) {
				t.Fatalf("%s: submission %d carried counter %d", dev, i, c)
			}
		}
	}
}

func TestDispatcherHungDeviceDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	sub := &recordingSubmitter{block: map[string]chan struct{}{"HUNG": release}}
	d := NewDispatcher(sub, ports.Policy{Lanes: 8, IdleSleep: time.Millisecond, OnQueueFull: "block"}, observability.Nop{}, nil)

	other := ""
	for i := 0; i < 100; i++ {
		cand := fmt.Sprintf("OK-%d", i)
		if d.laneFor(cand) != d.laneFor("HUNG") {
			other = cand
			break
		}
	}
	if other == "" {
		t.Fatalf("no address on a different lane")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan domain.Reading, 4)
	go d.Run(ctx, in)

	in <- domain.Reading{DeviceAddress: "HUNG", SequenceCounter: 1}
	in <- domain.Reading{DeviceAddress: other, SequenceCounter: 1}

	deadline := time.Now().Add(2 * time.Second)
	for sub.count(other) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("submission for %s blocked behind a hung device", other)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
}

func TestDeviceLanesIsolateDevicesThatShareAHashedLane(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	sub := &recordingSubmitter{block: map[string]chan struct{}{"HUNG": release}}
	d := NewDispatcher(sub, ports.Policy{LaneMode: ports.LaneModeDevice, Lanes: 1, IdleSleep: time.Millisecond, OnQueueFull: "block"}, observability.Nop{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan domain.Reading, 8)
	go d.Run(ctx, in)

	in <- domain.Reading{DeviceAddress: "HUNG", SequenceCounter: 1}
	for c := int64(1); c <= 3; c++ {
		in <- domain.Reading{DeviceAddress: "OK", SequenceCounter: c}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sub.count("OK") < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("device OK blocked behind a hung device, got %d submissions", sub.count("OK"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeviceLanesPreserveOrderAndDrainOnClose(t *testing.T) {
	sub := &recordingSubmitter{}
	d := NewDispatcher(sub, ports.Policy{LaneMode: ports.LaneModeDevice, MaxBatchSize: 4, IdleSleep: time.Millisecond, OnQueueFull: "block"}, observability.Nop{}, nil)

	in := make(chan domain.Reading, 64)
	for c := int64(1); c <= 10; c++ {
		for _, dev := range []string{"D1", "D2", "D3"} {
			in <- domain.Reading{DeviceAddress: dev, SequenceCounter: c}
		}
	}
	close(in)
	if err := d.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.Pending() != 0 {
		t.Fatalf("expected nothing pending after drain, got %d", d.Pending())
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	for _, dev := range []string{"D1", "D2", "D3"} {
		got := sub.byDevice[dev]
		if len(got) != 10 {
			t.Fatalf("%s: expected 10 submissions, got %d", dev, len(got))
		}
		for i, c := range got {
			if c != int64(i+1) {
				t.Fatalf("%s: submission %d carried counter %d", dev, i, c)
			}
		}
	}
}

func TestDispatcherReportsOutcomes(t *testing.T) {
	sub := &recordingSubmitter{outcome: func(r domain.Reading) domain.Outcome {
		switch r.SequenceCounter {
		case 1:
			return domain.Outcome{Kind: domain.OutcomeAccepted, ReadingID: "9"}
		case 2:
			return domain.Outcome{Kind: domain.OutcomeDuplicate, Status: 409}
		case 3:
			return domain.Outcome{Kind: domain.OutcomeRejected, Status: 422, Detail: "bad"}
		default:
			return domain.Outcome{Kind: domain.OutcomeTransportFailure, Detail: "refused"}
		}
	}}
	obs := &mockObs{}
	var kinds []domain.OutcomeKind
	var mu sync.Mutex
	d := NewDispatcher(sub, ports.Policy{Lanes: 1, IdleSleep: time.Millisecond, OnQueueFull: "block"}, obs, func(_ domain.Reading, o domain.Outcome) {
		mu.Lock()
		kinds = append(kinds, o.Kind)
		mu.Unlock()
	})

	in := make(chan domain.Reading, 4)
	for c := int64(1); c <= 4; c++ {
		in <- domain.Reading{DeviceAddress: "D1", SequenceCounter: c}
	}
	close(in)
	d.Run(context.Background(), in)

	want := []domain.OutcomeKind{domain.OutcomeAccepted, domain.OutcomeDuplicate, domain.OutcomeRejected, domain.OutcomeTransportFailure}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("unexpected outcomes %v", kinds)
	}
	if len(obs.errors) != 2 {
		t.Fatalf("only rejected and transport outcomes are errors, got %d", len(obs.errors))
	}
	if obs.infos != 1 || obs.debugs != 1 {
		t.Fatalf("expected one accepted info and one duplicate debug log, got %d/%d", obs.infos, obs.debugs)
	}
}

type recordingSubmitter struct {
	mu       sync.Mutex
	byDevice map[string][]int64
	block    map[string]chan struct{}
	outcome  func(domain.Reading) domain.Outcome
	calls    int64
}

func (s *recordingSubmitter) Submit(_ context.Context, r domain.Reading) domain.Outcome {
	atomic.AddInt64(&s.calls, 1)
	if ch, ok := s.block[r.DeviceAddress]; ok {
		<-ch
	}
	s.mu.Lock()
	if s.byDevice == nil {
		s.byDevice = map[string][]int64{}
	}
	s.byDevice[r.DeviceAddress] = append(s.byDevice[r.DeviceAddress], r.SequenceCounter)
	s.mu.Unlock()
	if s.outcome != nil {
		return s.outcome(r)
	}
	return domain.Outcome{Kind: domain.OutcomeAccepted, ReadingID: "1"}
}

func (s *recordingSubmitter) count(dev string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byDevice[dev])
}

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
}

func (m *mockQueue) Enqueue(domain.Reading) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	return true
}

func (m *mockQueue) DequeueBatch(int) []domain.Reading { return nil }
func (m *mockQueue) Len() int                          { return 0 }

type mockObs struct {
	observability.Nop
	mu     sync.Mutex
	errors []error
	infos  int
	debugs int
}

func (m *mockObs) LogInfo(string, ...ports.Field) {
	m.mu.Lock()
	m.infos++
	m.mu.Unlock()
}

func (m *mockObs) LogDebug(string, ...ports.Field) {
	m.mu.Lock()
	m.debugs++
	m.mu.Unlock()
}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}
