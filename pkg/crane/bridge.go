package crane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/delivery"
	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/app/config"
	"github.com/ladiesman540/crane-platform/internal/app/pipeline"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

const shutdownTimeout = 5 * time.Second

// BridgeOption customizes the dependencies used by Bridge.
type BridgeOption func(*bridgeOverrides)

type bridgeOverrides struct {
	submitter     ports.Submitter
	observability ports.Observability
	metrics       http.Handler
	onOutcome     pipeline.OutcomeFunc
}

// WithSubmitter replaces the HTTP delivery client.
func WithSubmitter(sub ports.Submitter) BridgeOption {
	return func(o *bridgeOverrides) { o.submitter = sub }
}

// WithObservability plugs in a custom logging and metrics backend. Pair it
// with WithMetricsHandler to expose its registry.
func WithObservability(obs ports.Observability) BridgeOption {
	return func(o *bridgeOverrides) { o.observability = obs }
}

func WithMetricsHandler(h http.Handler) BridgeOption {
	return func(o *bridgeOverrides) { o.metrics = h }
}

// WithOutcomeHandler observes every terminal delivery outcome.
func WithOutcomeHandler(fn func(domain.Reading, domain.Outcome)) BridgeOption {
	return func(o *bridgeOverrides) { o.onOutcome = fn }
}

// Bridge wires a source through the per-device dispatcher into the
// delivery client and serves the bridge's metrics.
type Bridge struct {
	cfg        *config.Config
	source     ports.Source
	submitter  ports.Submitter
	obs        ports.Observability
	metrics    http.Handler
	onOutcome  pipeline.OutcomeFunc
	metricsSrv *http.Server
}

// NewBridge bootstraps the default delivery client and Prometheus
// observability around src. Options override either.
func NewBridge(cfg *config.Config, src ports.Source, opts ...BridgeOption) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if src == nil {
		return nil, errors.New("source is required")
	}

	var o bridgeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs, metrics := o.observability, o.metrics
	if obs == nil {
		var h http.Handler
		obs, h = NewObservability(cfg.LogLevel)
		if metrics == nil {
			metrics = h
		}
	}

	sub := o.submitter
	if sub == nil {
		sub = delivery.NewClient(cfg.Bridge.APIURL, cfg.Bridge.APIKey, delivery.WithTimeout(cfg.Bridge.Timeout))
	}

	return &Bridge{
		cfg:       cfg,
		source:    src,
		submitter: sub,
		obs:       obs,
		metrics:   metrics,
		onOutcome: o.onOutcome,
	}, nil
}

// Observability returns the backend the bridge logs through.
func (b *Bridge) Observability() ports.Observability { return b.obs }

// Run starts the source and blocks until ctx is cancelled. On shutdown the
// source is stopped first, then readings it already handed over are
// submitted before Run returns, bounded by the delivery timeout.
func (b *Bridge) Run(ctx context.Context) error {
	b.startMetrics()

	readings := make(chan domain.Reading, 64)
	if err := b.source.Start(readings); err != nil {
		return errors.Join(fmt.Errorf("start %s: %w", b.source.Name(), err), b.stopMetrics())
	}
	b.obs.LogInfo("bridge started", ports.F("source", b.source.Name()), ports.F("api_url", b.cfg.Bridge.APIURL))

	dispatchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	// feed is owned by the bridge so it can be closed once the source is
	// stopped, even if a source callback still holds readings.
	feed := make(chan domain.Reading)
	quit := make(chan struct{})
	go forward(dispatchCtx, readings, feed, quit)

	d := pipeline.NewDispatcher(b.submitter, b.cfg.Policy, b.obs, b.onOutcome)
	done := make(chan error, 1)
	go func() { done <- d.Run(dispatchCtx, feed) }()

	var errs []error
	select {
	case <-ctx.Done():
	case err := <-done:
		done = nil
		if err != nil {
			errs = append(errs, fmt.Errorf("dispatcher: %w", err))
		}
	}

	if err := b.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop %s: %w", b.source.Name(), err))
	}
	close(quit)
	if done != nil {
		if err := b.drain(d, done, cancel); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.stopMetrics(); err != nil {
		errs = append(errs, err)
	}
	b.obs.LogInfo("bridge stopped", ports.F("source", b.source.Name()))
	return errors.Join(errs...)
}

// forward copies readings into feed until quit is closed, then hands over
// whatever is still buffered and closes feed. It gives up once ctx is done.
func forward(ctx context.Context, readings <-chan domain.Reading, feed chan<- domain.Reading, quit <-chan struct{}) {
	defer close(feed)
	send := func(r domain.Reading) bool {
		select {
		case feed <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case r := <-readings:
			if !send(r) {
				return
			}
		case <-quit:
			for {
				select {
				case r := <-readings:
					if !send(r) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// drain waits for the dispatcher to submit what is queued. Readings still
// queued when the deadline passes are dropped and logged.
func (b *Bridge) drain(d *pipeline.Dispatcher, done <-chan error, cancel context.CancelFunc) error {
	wait := b.cfg.Bridge.Timeout
	if wait <= 0 {
		wait = delivery.DefaultTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	}
	cancel()
	err := <-done
	if n := d.Pending(); n > 0 {
		b.obs.IncCounter(observability.QueueDropped, float64(n))
		b.obs.LogWarn("shutdown dropped queued readings", ports.F("source", b.source.Name()), ports.F("count", n))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bridge) startMetrics() {
	if b.cfg.Bridge.MetricsAddr == "" || b.metrics == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.metrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	b.metricsSrv = &http.Server{
		Addr:              b.cfg.Bridge.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := b.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.obs.LogError("metrics server exited", err)
		}
	}()
}

func (b *Bridge) stopMetrics() error {
	if b.metricsSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
