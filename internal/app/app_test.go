package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tgcpa/tgcpa/internal/config"
	"github.com/tgcpa/tgcpa/internal/idempotency"
	"github.com/tgcpa/tgcpa/internal/metrics"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		backend  string
		wantType string
	}{
		{config.BackendMemory, "memory"},
		{config.BackendPrometheus, "prometheus"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.backend, func(t *testing.T) {
			t.Parallel()

			rec, h := NewMetrics(tt.backend)
			rec.IncClickIssued()

			switch tt.wantType {
			case "memory":
				if _, ok := rec.(*metrics.InMemoryRecorder); !ok {
					t.Fatalf("recorder = %T, want *metrics.InMemoryRecorder", rec)
				}
			case "prometheus":
				if _, ok := rec.(*metrics.PrometheusRecorder); !ok {
					t.Fatalf("recorder = %T, want *metrics.PrometheusRecorder", rec)
				}
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if !strings.Contains(w.Body.String(), "tgcpa_clicks_issued_total") {
				t.Errorf("metrics output missing clicks counter:\n%s", w.Body.String())
			}
		})
	}
}

func TestNewGuard_MemoryOnly(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{IdempotencyCapacity: 10, IdempotencyBackend: config.BackendRedis}
	g := NewGuard(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tiers, ok := g.(idempotency.Tiered)
	if !ok {
		t.Fatalf("guard = %T, want idempotency.Tiered", g)
	}
	if len(tiers) != 1 {
		t.Errorf("tiers = %d, want 1 without redis", len(tiers))
	}

	ctx := context.Background()
	g.Remember(ctx, "k", idempotency.DefaultTTL)
	if !g.IsDupe(ctx, "k") {
		t.Error("IsDupe() = false after Remember")
	}
}

func TestNewGuard_EvictsInInsertionOrder(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{IdempotencyCapacity: 2, IdempotencyBackend: config.BackendMemory}
	g := NewGuard(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	g.Remember(ctx, "a", idempotency.DefaultTTL)
	g.Remember(ctx, "b", idempotency.DefaultTTL)
	// A lookup does not refresh "a" the way an LRU would.
	if !g.IsDupe(ctx, "a") {
		t.Fatal("IsDupe(a) = false before eviction")
	}
	g.Remember(ctx, "c", idempotency.DefaultTTL)

	if g.IsDupe(ctx, "a") {
		t.Error("IsDupe(a) = true, want evicted as oldest inserted")
	}
	if !g.IsDupe(ctx, "b") || !g.IsDupe(ctx, "c") {
		t.Error("IsDupe(b, c) = false, want both kept")
	}
}
