package crane

import (
	"context"
	"io"
	"net/http"
	"time"

	base "github.com/ladiesman540/crane-platform/pkg/crane"
)

// ErrPublisherClosed is returned by Publisher.Publish after Stop.
var ErrPublisherClosed = base.ErrPublisherClosed

// Type aliases so consumers can import github.com/ladiesman540/crane-platform directly.
type (
	Config           = base.Config
	Policy           = base.Policy
	Reading          = base.Reading
	AcceptedReading  = base.AcceptedReading
	LiveEvent        = base.LiveEvent
	Outcome          = base.Outcome
	Zone             = base.Zone
	Source           = base.Source
	Submitter        = base.Submitter
	Observability    = base.Observability
	Field            = base.Field
	Bridge           = base.Bridge
	BridgeOption     = base.BridgeOption
	IngestServer     = base.IngestServer
	IngestOption     = base.IngestOption
	Subscriber       = base.Subscriber
	SubscriberOption = base.SubscriberOption
	ConnState        = base.ConnState
	Dialer           = base.Dialer
	EventHandler     = base.EventHandler
	Merger           = base.Merger
	Timeline         = base.Timeline
	Entry            = base.Entry
	Status           = base.Status
	SnapshotClient   = base.SnapshotClient
	Publisher        = base.Publisher
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func NewObservability(level string) (Observability, http.Handler) {
	return base.NewObservability(level)
}

// Bridge runtime and options.
func NewSource(kind string, cfg *Config, obs Observability) (Source, error) {
	return base.NewSource(kind, cfg, obs)
}

func NewBridge(cfg *Config, src Source, opts ...BridgeOption) (*Bridge, error) {
	return base.NewBridge(cfg, src, opts...)
}

func WithSubmitter(sub Submitter) BridgeOption {
	return base.WithSubmitter(sub)
}

func WithObservability(obs Observability) BridgeOption {
	return base.WithObservability(obs)
}

func WithMetricsHandler(h http.Handler) BridgeOption {
	return base.WithMetricsHandler(h)
}

func WithOutcomeHandler(fn func(Reading, Outcome)) BridgeOption {
	return base.WithOutcomeHandler(fn)
}

func NewPublisher(name string) *Publisher {
	return base.NewPublisher(name)
}

// Ingest gate.
func NewIngestServer(ctx context.Context, cfg *Config, opts ...IngestOption) (*IngestServer, error) {
	return base.NewIngestServer(ctx, cfg, opts...)
}

func WithIngestObservability(obs Observability, metrics http.Handler) IngestOption {
	return base.WithIngestObservability(obs, metrics)
}

func WithAccessLog(w io.Writer) IngestOption {
	return base.WithAccessLog(w)
}

// Live channel client.
func NewSubscriber(url string, handler EventHandler, opts ...SubscriberOption) *Subscriber {
	return base.NewSubscriber(url, handler, opts...)
}

func WithReconnectDelay(d time.Duration) SubscriberOption {
	return base.WithReconnectDelay(d)
}

func OnStateChange(fn func(ConnState)) SubscriberOption {
	return base.OnStateChange(fn)
}

func NewMerger(capacity int) *Merger {
	return base.NewMerger(capacity)
}

func NewSnapshotClient(apiURL, apiKey string, hc *http.Client) *SnapshotClient {
	return base.NewSnapshotClient(apiURL, apiKey, hc)
}

func StatusAt(now, last time.Time) Status {
	return base.StatusAt(now, last)
}

func MaskKey(k string) string {
	return base.MaskKey(k)
}
