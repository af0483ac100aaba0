package observability

import (
	"log/slog"
	"os"
	"strings"

	"github.com/ladiesman540/crane-platform/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names shared by the bridge and the gate.
const (
	SubmitAccepted          = "crane_submit_accepted_total"
	SubmitDuplicate         = "crane_submit_duplicate_total"
	SubmitRejected          = "crane_submit_rejected_total"
	SubmitTransportFailures = "crane_submit_transport_failures_total"
	ReadingsDiscarded       = "crane_readings_discarded_total"
	QueueDropped            = "crane_lane_dropped_total"
	GateAccepted            = "crane_gate_accepted_total"
	GateDuplicate           = "crane_gate_duplicate_total"
	AlertsPublished         = "crane_alerts_published_total"

	LaneQueueLength = "crane_lane_queue_length"
	LiveSessions    = "crane_live_sessions"

	SubmitLatency = "crane_submit_latency_seconds"
)

type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the crane metrics on reg (the default registerer when
// nil) and logs through logger (a text logger on stdout when nil).
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = NewLogger("info")
	}

	counters := map[string]prometheus.Counter{}
	for name, help := range map[string]string{
		SubmitAccepted:          "Readings accepted by the ingestion gate.",
		SubmitDuplicate:         "Readings the gate already held (HTTP 409).",
		SubmitRejected:          "Readings rejected by the ingestion gate.",
		SubmitTransportFailures: "Submissions that failed at the network layer.",
		ReadingsDiscarded:       "Malformed or unaddressed payloads dropped by a source.",
		QueueDropped:            "Readings lost due to lane backpressure policies.",
		GateAccepted:            "Readings accepted by this gate.",
		GateDuplicate:           "Duplicate submissions refused by this gate.",
		AlertsPublished:         "Severity alerts published.",
	} {
		counters[name] = prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauges := map[string]prometheus.Gauge{
		LaneQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: LaneQueueLength,
			Help: "Readings buffered across all dispatcher lanes.",
		}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: LiveSessions,
			Help: "Connected live dashboard sessions.",
		}),
	}
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    SubmitLatency,
		Help:    "Round trip of one ingestion submission.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	collectors := []prometheus.Collector{latency}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	for _, g := range gauges {
		collectors = append(collectors, g)
	}
	reg.MustRegister(collectors...)

	return &PromObs{
		log:      logger,
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			SubmitLatency: latency,
		},
	}
}

// NewLogger builds the text slog logger used by every command.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func (p *PromObs) Logger() *slog.Logger { return p.log }

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.log.Debug(msg, attrs(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), "err", errString(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), "err", errString(err), "critical", true)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDiscard(source string, err error, fields ...ports.Field) {
	p.IncCounter(ReadingsDiscarded, 1)
	p.log.Warn("reading_discarded", append(attrs(fields), "source", source, "reason", errString(err))...)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Nop discards logs and metrics; handy in tests and examples.
type Nop struct{}

func (Nop) LogDebug(string, ...ports.Field)             {}
func (Nop) LogInfo(string, ...ports.Field)              {}
func (Nop) LogWarn(string, ...ports.Field)              {}
func (Nop) LogError(string, error, ...ports.Field)      {}
func (Nop) LogCritical(string, error, ...ports.Field)   {}
func (Nop) IncCounter(string, float64)                  {}
func (Nop) ObserveLatency(string, float64)              {}
func (Nop) SetGauge(string, float64)                    {}
func (Nop) RecordDiscard(string, error, ...ports.Field) {}

var (
	_ ports.Observability = (*PromObs)(nil)
	_ ports.Observability = Nop{}
)
