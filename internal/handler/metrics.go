package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/tgcpa/tgcpa/internal/metrics"
)

// MetricsHandler exposes in-memory metrics in the Prometheus text format
// for deployments running METRICS_BACKEND=memory.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics writes the current snapshot.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "tgcpa_clicks_issued_total %d\n", snap.ClicksIssued)
	writeMetric(w, "tgcpa_clicks_rate_limited_total %d\n", snap.ClicksRateLimited)
	writeLabeled(w, "tgcpa_claims_total", "status", snap.Claims)

	writeMetric(w, "tgcpa_events_recorded_total{created=\"true\"} %d\n", snap.EventsCreated)
	writeMetric(w, "tgcpa_events_recorded_total{created=\"false\"} %d\n", snap.EventsDuplicate)
	writeLabeled(w, "tgcpa_events_blocked_total", "reason", snap.EventsBlocked)

	writeLabeled(w, "tgcpa_postbacks_total", "status", snap.Postbacks)
	writeMetric(w, "tgcpa_postback_duration_seconds_count %d\n", snap.PostbackDurationCount)
	writeMetric(w, "tgcpa_postback_duration_seconds_sum %.6f\n", float64(snap.PostbackDurationTotalNs)/1e9)
	writeLabeled(w, "tgcpa_postback_retries_total", "status", snap.PostbackRetries)
}

func writeLabeled(w http.ResponseWriter, name, label string, counts map[string]uint64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, counts[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
