package simulator

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/gateway"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// Trajectory selects how a simulated device's vibration evolves.
type Trajectory string

const (
	Degrade Trajectory = "degrade"
	Healthy Trajectory = "healthy"
	Spiky   Trajectory = "spiky"
)

const (
	DefaultInterval = 10 * time.Second
	// CounterStart is the last counter considered taken by seed data.
	CounterStart = 100
	degradeTicks = 50
	spikeRate    = 0.15
)

type Device struct {
	Addr       string
	Label      string
	Trajectory Trajectory
}

// DefaultDevices are the three crane sensors the simulator drives.
var DefaultDevices = []Device{
	{Addr: "00:13:A2:00:41:AB:CD:01", Label: "Hoist (degrading)", Trajectory: Degrade},
	{Addr: "00:13:A2:00:41:AB:CD:02", Label: "Bridge (healthy)", Trajectory: Healthy},
	{Addr: "00:13:A2:00:41:AB:CD:03", Label: "Gearbox (spiky)", Trajectory: Spiky},
}

type Config struct {
	Interval time.Duration
	Seed     int64
	Devices  []Device
}

func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if len(c.Devices) == 0 {
		c.Devices = DefaultDevices
	}
}

// Generator produces gateway-shaped events for the simulated devices. Given
// the same seed it produces the same sequence.
type Generator struct {
	devices []Device
	rng     *rand.Rand
	tick    int
	counter map[string]int64
}

func NewGenerator(seed int64, devices []Device) *Generator {
	g := &Generator{
		devices: devices,
		rng:     rand.New(rand.NewSource(seed)),
		counter: make(map[string]int64, len(devices)),
	}
	for _, d := range devices {
		g.counter[d.Addr] = CounterStart
	}
	return g
}

// Cycle advances one tick and returns one event per device, in device order.
func (g *Generator) Cycle() []gateway.Event {
	g.tick++
	out := make([]gateway.Event, 0, len(g.devices))
	for _, d := range g.devices {
		out = append(out, g.event(d))
	}
	return out
}

func (g *Generator) rand(min, max float64) float64 {
	return min + g.rng.Float64()*(max-min)
}

func (g *Generator) noise() float64 { return g.rand(-0.05, 0.05) }

func (g *Generator) event(d Device) gateway.Event {
	var x, y, z, temp float64
	switch d.Trajectory {
	case Degrade:
		p := math.Min(float64(g.tick)/degradeTicks, 1)
		x = 0.3 + p*1.8 + g.noise()
		y = 0.2 + p*1.2 + g.noise()
		z = 0.15 + p*0.7 + g.noise()
		temp = 32 + p*8 + g.noise()
	case Spiky:
		if g.rng.Float64() < spikeRate {
			x, y, z = g.rand(1.5, 2.5), g.rand(1.0, 1.8), g.rand(0.8, 1.2)
			temp = g.rand(38, 45)
		} else {
			x = g.rand(0.4, 0.6) + g.noise()
			y = g.rand(0.3, 0.45) + g.noise()
			z = g.rand(0.2, 0.35) + g.noise()
			temp = g.rand(29, 31) + g.noise()
		}
	default:
		x = 0.35 + g.noise()
		y = 0.25 + g.noise()
		z = 0.18 + g.noise()
		temp = 28 + g.noise()
	}

	g.counter[d.Addr]++
	return gateway.Event{
		"addr":            d.Addr,
		"counter":         g.counter[d.Addr],
		"firmware":        10,
		"battery_percent": max(10, int(math.Round(95-float64(g.tick)*0.1))),
		"sensor_type":     114,
		"odr":             800,
		"temperature":     round(temp, 1),
		"rpm":             1750,
		"rssi":            int(math.Round(g.rand(-70, -50))),

		"x_rms_ACC_G":       round(x*0.12, 3),
		"x_max_ACC_G":       round(x*0.3, 3),
		"x_velocity_mm_sec": round(x, 3),
		"x_displacement_mm": round(x*0.006, 3),
		"x_peak_one_Hz":     round(g.rand(50, 200), 1),
		"x_peak_two_Hz":     round(g.rand(100, 400), 1),
		"x_peak_three_Hz":   round(g.rand(200, 600), 1),

		"y_rms_ACC_G":       round(y*0.11, 3),
		"y_max_ACC_G":       round(y*0.25, 3),
		"y_velocity_mm_sec": round(y, 3),
		"y_displacement_mm": round(y*0.005, 3),
		"y_peak_one_Hz":     round(g.rand(40, 150), 1),
		"y_peak_two_Hz":     round(g.rand(80, 300), 1),
		"y_peak_three_Hz":   round(g.rand(160, 450), 1),

		"z_rms_ACC_G":       round(z*0.1, 3),
		"z_max_ACC_G":       round(z*0.2, 3),
		"z_velocity_mm_sec": round(z, 3),
		"z_displacement_mm": round(z*0.004, 3),
		"z_peak_one_Hz":     round(g.rand(30, 100), 1),
		"z_peak_two_Hz":     round(g.rand(60, 200), 1),
		"z_peak_three_Hz":   round(g.rand(90, 300), 1),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Source emits one generator cycle immediately on Start and then once per
// interval until stopped. Events travel the same normalizer as gateway
// events.
type Source struct {
	cfg  Config
	gen  *Generator
	norm ports.Normalizer[gateway.Event]
	obs  ports.Observability

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewSource(cfg Config, norm ports.Normalizer[gateway.Event], obs ports.Observability) *Source {
	cfg.ApplyDefaults()
	return &Source{cfg: cfg, gen: NewGenerator(cfg.Seed, cfg.Devices), norm: norm, obs: obs}
}

func (s *Source) Name() string { return "simulator" }

func (s *Source) Start(out chan<- domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("simulator already started")
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.started = true
	s.obs.LogInfo("simulator started", ports.F("devices", len(s.cfg.Devices)), ports.F("interval", s.cfg.Interval.String()))
	go s.loop(out, s.stop, s.done)
	return nil
}

func (s *Source) loop(out chan<- domain.Reading, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if !s.emit(out, stop) {
			return
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Source) emit(out chan<- domain.Reading, stop chan struct{}) bool {
	for _, ev := range s.gen.Cycle() {
		r, err := s.norm.Normalize(ev)
		if err != nil {
			s.obs.RecordDiscard(s.Name(), err)
			continue
		}
		select {
		case out <- r:
		case <-stop:
			return false
		}
	}
	return true
}

func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	close(s.stop)
	done := s.done
	s.started = false
	s.mu.Unlock()
	<-done
	return nil
}

var _ ports.Source = (*Source)(nil)
