package crane

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ladiesman540/crane-platform/internal/adapters/delivery"
	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/app/config"
	"github.com/ladiesman540/crane-platform/internal/domain"
)

type recAlerts struct {
	mu  sync.Mutex
	got []domain.Alert
}

func (r *recAlerts) PublishAlert(_ context.Context, a domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return nil
}

func TestIngestServerThrottlesAlerts(t *testing.T) {
	cfg := &config.Config{Gate: config.GateConfig{
		APIKeys: []string{"crane_test_key"},
		Store:   config.StoreConfig{Backend: config.StoreMemory},
		Alerts:  config.AlertsConfig{Cooldown: time.Hour},
	}}
	pub := &recAlerts{}
	srv, err := NewIngestServer(context.Background(), cfg,
		WithAlertPublisher(pub),
		WithIngestObservability(observability.Nop{}, nil),
		WithAccessLog(nil),
	)
	if err != nil {
		t.Fatalf("NewIngestServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := delivery.NewClient(ts.URL, "crane_test_key")
	for counter, v := range []float64{1.95, 2.10, 1.20} {
		r := domain.Reading{DeviceAddress: "D1", SequenceCounter: int64(counter + 1), Y: domain.Axis{VelocityMMs: domain.Float(v)}}
		if out := client.Submit(context.Background(), r); out.Kind != domain.OutcomeAccepted {
			t.Fatalf("reading %d: expected accepted, got %s", counter+1, out)
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.got) != 2 {
		t.Fatalf("expected one critical and one warning alert, got %+v", pub.got)
	}
	if pub.got[0].Severity != "critical" || pub.got[1].Severity != "warning" {
		t.Fatalf("unexpected severities %s, %s", pub.got[0].Severity, pub.got[1].Severity)
	}
}

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenStore(ctx, config.StoreConfig{Backend: config.StoreMemory}); err != nil {
		t.Fatalf("memory store: %v", err)
	}
	st, err := OpenStore(ctx, config.StoreConfig{Backend: config.StoreJournal, JournalDir: t.TempDir()})
	if err != nil {
		t.Fatalf("journal store: %v", err)
	}
	st.Close()
	if _, err := OpenStore(ctx, config.StoreConfig{Backend: "cassandra"}); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
