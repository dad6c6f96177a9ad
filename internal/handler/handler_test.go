package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tgcpa/tgcpa/internal/handler/dto"
	"github.com/tgcpa/tgcpa/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var body dto.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantCode   string
	}{
		{"not found", NotFound, http.StatusNotFound, "NOT_FOUND"},
		{"method not allowed", MethodNotAllowed, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if body := decodeError(t, rec); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestQueryLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  int
	}{
		{"", 5},
		{"limit=10", 10},
		{"limit=0", 5},
		{"limit=-3", 5},
		{"limit=abc", 5},
		{"limit=500", 500},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		if got := queryLimit(req, 5); got != tt.want {
			t.Errorf("queryLimit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	rec := metrics.NewInMemory()
	rec.IncClickIssued()
	rec.IncEventRecorded("join_group", true)
	rec.IncEventBlocked("suspect_ip")
	rec.IncPostback("dry-run")

	w := httptest.NewRecorder()
	NewMetricsHandler(rec).Metrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	out := w.Body.String()
	for _, line := range []string{
		"tgcpa_clicks_issued_total 1",
		`tgcpa_events_recorded_total{created="true"} 1`,
		`tgcpa_events_blocked_total{reason="suspect_ip"} 1`,
		`tgcpa_postbacks_total{status="dry-run"} 1`,
	} {
		if !strings.Contains(out, line) {
			t.Errorf("metrics output missing %q:\n%s", line, out)
		}
	}
}

func TestMetricsHandler_NoSnapshotter(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	NewMetricsHandler(nil).Metrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
