package crane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/alerts"
	"github.com/ladiesman540/crane-platform/internal/adapters/live"
	"github.com/ladiesman540/crane-platform/internal/adapters/store"
	"github.com/ladiesman540/crane-platform/internal/app/config"
	"github.com/ladiesman540/crane-platform/internal/app/gate"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// IngestOption customizes the dependencies used by IngestServer.
type IngestOption func(*ingestOverrides)

type ingestOverrides struct {
	store         ports.ReadingStore
	alerts        ports.AlertPublisher
	observability Observability
	metrics       http.Handler
	accessLog     io.Writer
}

// WithStore replaces the configured store backend.
func WithStore(s ports.ReadingStore) IngestOption {
	return func(o *ingestOverrides) { o.store = s }
}

// WithAlertPublisher replaces the NATS or log publisher. Alerts still pass
// through the cooldown throttle.
func WithAlertPublisher(p ports.AlertPublisher) IngestOption {
	return func(o *ingestOverrides) { o.alerts = p }
}

func WithIngestObservability(obs Observability, metrics http.Handler) IngestOption {
	return func(o *ingestOverrides) {
		o.observability = obs
		o.metrics = metrics
	}
}

// WithAccessLog directs request logs to w; nil disables them.
func WithAccessLog(w io.Writer) IngestOption {
	return func(o *ingestOverrides) { o.accessLog = w }
}

// IngestServer runs the idempotency gate, the live channel and the query
// API behind one HTTP listener.
type IngestServer struct {
	cfg     *config.Config
	obs     Observability
	store   ports.ReadingStore
	hub     *live.Hub
	nats    *alerts.NATSPublisher
	handler http.Handler
}

// NewIngestServer opens the configured store and alert publisher and wires
// them to the gate.
func NewIngestServer(ctx context.Context, cfg *config.Config, opts ...IngestOption) (*IngestServer, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	o := ingestOverrides{accessLog: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs, metrics := o.observability, o.metrics
	if obs == nil {
		obs, metrics = NewObservability(cfg.LogLevel)
	}

	s := &IngestServer{cfg: cfg, obs: obs, store: o.store}
	if s.store == nil {
		st, err := OpenStore(ctx, cfg.Gate.Store)
		if err != nil {
			return nil, err
		}
		s.store = st
	}

	pub := o.alerts
	if pub == nil {
		if url := cfg.Gate.Alerts.NATSURL; url != "" {
			np, err := alerts.NewNATSPublisher(url, cfg.Gate.Alerts.Subject)
			if err != nil {
				s.store.Close()
				return nil, err
			}
			s.nats = np
			pub = np
		} else {
			pub = alerts.LogPublisher{Obs: obs}
		}
	}

	s.hub = live.NewHub(obs, live.WithLiveness(cfg.Gate.PingPeriod, cfg.Gate.PongWait))
	g := gate.New(s.store, s.hub, obs,
		gate.WithSensors(cfg.Gate.Sensors),
		gate.WithAlerts(alerts.NewThrottle(pub, cfg.Gate.Alerts.Cooldown, obs)),
	)
	s.handler = gate.NewServer(g, s.hub, metrics, cfg.Gate.APIKeys, obs).Router(o.accessLog)
	return s, nil
}

// OpenStore opens the store backend named in cfg.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (ports.ReadingStore, error) {
	switch cfg.Backend {
	case config.StoreMemory, "":
		return store.NewMemoryStore(cfg.Retention), nil
	case config.StoreJournal:
		return store.OpenJournal(cfg.JournalDir, cfg.Retention, true)
	case config.StorePostgres:
		return store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.Table)
	case config.StoreRedis:
		return store.OpenRedis(ctx, cfg.RedisAddr, cfg.Retention)
	case config.StoreDynamo:
		return store.OpenDynamo(ctx, cfg.DynamoTable)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Handler exposes the routed gate for embedding or tests.
func (s *IngestServer) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then drains the listener and closes
// the live sessions, the alert connection and the store.
func (s *IngestServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Gate.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.obs.LogInfo("ingest gate listening",
		ports.F("addr", s.cfg.Gate.ListenAddr),
		ports.F("store", s.cfg.Gate.Store.Backend),
		ports.F("sensors", len(s.cfg.Gate.Sensors)))

	var errs []error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			errs = append(errs, fmt.Errorf("listen: %w", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	if s.nats != nil {
		s.nats.Close()
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	s.obs.LogInfo("ingest gate stopped")
	return errors.Join(errs...)
}
