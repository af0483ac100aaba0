package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/adapters/queue"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// OutcomeFunc observes every terminal delivery outcome.
type OutcomeFunc func(r domain.Reading, o domain.Outcome)

// Dispatcher fans readings out onto per-device lanes. A device always maps
// to the same lane and each lane submits sequentially, so a device's
// readings are submitted in arrival order while other devices proceed
// concurrently. In device mode each device gets a lane of its own, created
// on first sight; otherwise devices are hashed onto a fixed set of lanes.
type Dispatcher struct {
	sub       ports.Submitter
	pol       ports.Policy
	obs       ports.Observability
	onOutcome OutcomeFunc
	abandoned atomic.Int64

	mu       sync.Mutex
	lanes    []*queue.MemQueue
	byDevice map[string]*queue.MemQueue
}

func NewDispatcher(sub ports.Submitter, pol ports.Policy, obs ports.Observability, onOutcome OutcomeFunc) *Dispatcher {
	if pol.Lanes <= 0 {
		pol.Lanes = 1
	}
	if pol.MaxQueueLen <= 0 {
		pol.MaxQueueLen = 1_000
	}
	if pol.MaxBatchSize <= 0 {
		pol.MaxBatchSize = 50
	}
	if pol.IdleSleep <= 0 {
		pol.IdleSleep = 50 * time.Millisecond
	}
	d := &Dispatcher{sub: sub, pol: pol, obs: obs, onOutcome: onOutcome}
	if pol.LaneMode == ports.LaneModeDevice {
		d.byDevice = make(map[string]*queue.MemQueue)
		return d
	}
	perLane := pol.MaxQueueLen / pol.Lanes
	d.lanes = make([]*queue.MemQueue, pol.Lanes)
	for i := range d.lanes {
		d.lanes[i] = queue.NewMemQueue(perLane)
	}
	return d
}

func (d *Dispatcher) laneFor(addr string) int {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return int(h.Sum32() % uint32(len(d.lanes)))
}

// lane returns the queue for addr. start is called for a lane created on
// first sight of a device.
func (d *Dispatcher) lane(addr string, start func(*queue.MemQueue)) *queue.MemQueue {
	if d.byDevice == nil {
		return d.lanes[d.laneFor(addr)]
	}
	d.mu.Lock()
	q, ok := d.byDevice[addr]
	if !ok {
		q = queue.NewMemQueue(d.pol.MaxQueueLen)
		d.byDevice[addr] = q
		d.lanes = append(d.lanes, q)
	}
	d.mu.Unlock()
	if !ok {
		start(q)
	}
	return q
}

// Run consumes in until it is closed or ctx is cancelled. When in closes,
// readings already queued are submitted before Run returns.
func (d *Dispatcher) Run(ctx context.Context, in <-chan domain.Reading) error {
	closing := make(chan struct{})
	var wg sync.WaitGroup
	start := func(q *queue.MemQueue) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.drain(ctx, q, closing)
		}()
	}
	d.mu.Lock()
	fixed := append([]*queue.MemQueue(nil), d.lanes...)
	d.mu.Unlock()
	for _, q := range fixed {
		start(q)
	}

	defer wg.Wait()
	defer close(closing)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-in:
			if !ok {
				return nil
			}
			lane := d.lane(r.DeviceAddress, start)
			if !enqueueWithPolicy(ctx, lane, r, d.pol, d.obs) {
				d.obs.IncCounter(observability.QueueDropped, 1)
			}
			d.obs.SetGauge(observability.LaneQueueLength, float64(d.queued()))
		}
	}
}

// Pending returns the number of readings queued but not yet submitted,
// including batches abandoned when ctx was cancelled.
func (d *Dispatcher) Pending() int { return d.queued() + int(d.abandoned.Load()) }

func (d *Dispatcher) queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, l := range d.lanes {
		n += l.Len()
	}
	return n
}

func (d *Dispatcher) drain(ctx context.Context, q *queue.MemQueue, closing <-chan struct{}) {
	idle := time.NewTimer(d.pol.IdleSleep)
	defer idle.Stop()
	for {
		batch := q.DequeueBatch(d.pol.MaxBatchSize)
		if len(batch) == 0 {
			select {
			case <-closing:
				if q.Len() == 0 {
					return
				}
				continue
			default:
			}
			idle.Reset(d.pol.IdleSleep)
			select {
			case <-ctx.Done():
				return
			case <-q.Ready():
			case <-closing:
			case <-idle.C:
			}
			continue
		}
		for i, r := range batch {
			if ctx.Err() != nil {
				d.abandoned.Add(int64(len(batch) - i))
				return
			}
			d.submit(ctx, r)
		}
	}
}

func (d *Dispatcher) submit(ctx context.Context, r domain.Reading) {
	start := time.Now()
	out := d.sub.Submit(ctx, r)
	d.obs.ObserveLatency(observability.SubmitLatency, time.Since(start).Seconds())
	d.report(r, out)
	if d.onOutcome != nil {
		d.onOutcome(r, out)
	}
}

// report logs every terminal outcome with the device and a marker.
func (d *Dispatcher) report(r domain.Reading, o domain.Outcome) {
	fields := []ports.Field{
		ports.F("device", r.DeviceAddress),
		ports.F("counter", r.SequenceCounter),
	}
	switch o.Kind {
	case domain.OutcomeAccepted:
		d.obs.IncCounter(observability.SubmitAccepted, 1)
		d.obs.LogInfo("✓ accepted", append(fields,
			ports.F("reading_id", string(o.ReadingID)),
			ports.F("zone", domain.ZoneOf(r).String()))...)
	case domain.OutcomeDuplicate:
		d.obs.IncCounter(observability.SubmitDuplicate, 1)
		d.obs.LogDebug("= duplicate", fields...)
	case domain.OutcomeRejected:
		d.obs.IncCounter(observability.SubmitRejected, 1)
		d.obs.LogError("✗ rejected", fmt.Errorf("status %d: %s", o.Status, o.Detail), fields...)
	default:
		d.obs.IncCounter(observability.SubmitTransportFailures, 1)
		d.obs.LogError("✗ transport", errors.New(o.Detail), fields...)
	}
}

func enqueueWithPolicy(ctx context.Context, q ports.ReadingQueue, r domain.Reading, pol ports.Policy, obs ports.Observability) bool {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = 5 * time.Millisecond
	}

	for {
		if ok := q.Enqueue(r); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			select {
			case <-ctx.Done():
				return false
			case <-time.After(sleep):
			}
		case "drop":
			obs.LogError("lane_full_drop", fmt.Errorf("lane length exceeded capacity"),
				ports.F("device", r.DeviceAddress), ports.F("counter", r.SequenceCounter))
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}
