package crane

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/app/config"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// Reading is the canonical telemetry sample every source produces.
type Reading = domain.Reading

// AcceptedReading is a reading stored by the ingestion gate.
type AcceptedReading = domain.AcceptedReading

// LiveEvent is the payload pushed to live channel subscribers.
type LiveEvent = domain.LiveEvent

// Outcome is the result of submitting one reading.
type Outcome = domain.Outcome

// Zone is a vibration severity band.
type Zone = domain.Zone

// Source pushes normalized readings until stopped. Implement it to feed the
// bridge from a transport this package does not cover.
type Source = ports.Source

// Submitter delivers one reading to the gate.
type Submitter = ports.Submitter

// Observability emits logs and metrics.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

type (
	// Config is the shared bridge and gate configuration.
	Config = config.Config
	// Policy controls lane count and lane capacity.
	Policy = ports.Policy
)

// LoadConfig reads an optional YAML file and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// NewObservability builds slog + Prometheus observability on a fresh
// registry and returns the handler that exposes it.
func NewObservability(level string) (Observability, http.Handler) {
	reg := prometheus.NewRegistry()
	obs := observability.NewPromObs(reg, observability.NewLogger(level))
	return obs, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// MaskKey hides all but the first ten characters of an API key.
func MaskKey(k string) string {
	return config.MaskKey(k)
}
