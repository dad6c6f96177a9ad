package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports Recorder events as Prometheus series.
type PrometheusRecorder struct {
	gatherer prometheus.Gatherer

	clicksIssued      prometheus.Counter
	clicksRateLimited prometheus.Counter
	claims            *prometheus.CounterVec
	eventsRecorded    *prometheus.CounterVec
	eventsBlocked     *prometheus.CounterVec
	postbacks         *prometheus.CounterVec
	postbackDuration  prometheus.Histogram
	postbackRetries   *prometheus.CounterVec
}

// NewPrometheus registers collectors on a fresh registry.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	return NewPrometheusWithRegistry(reg, reg)
}

// NewPrometheusWithRegistry registers collectors on reg and serves from g.
func NewPrometheusWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		gatherer: g,
		clicksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgcpa_clicks_issued_total",
			Help: "Total number of clicks issued with a start token",
		}),
		clicksRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgcpa_clicks_rate_limited_total",
			Help: "Total number of tracking link visits rejected by the IP rate limit",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcpa_claims_total",
			Help: "Total number of start token claims",
		}, []string{"status"}),
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcpa_events_recorded_total",
			Help: "Total number of recordEvent calls that reached storage",
		}, []string{"event_type", "created"}),
		eventsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcpa_events_blocked_total",
			Help: "Total number of events blocked by anti-fraud rules",
		}, []string{"reason"}),
		postbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcpa_postbacks_total",
			Help: "Total number of postback attempts by outcome",
		}, []string{"status"}),
		postbackDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgcpa_postback_duration_seconds",
			Help:    "Duration of outbound postback requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		postbackRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcpa_postback_retries_total",
			Help: "Total number of postback retries by outcome",
		}, []string{"status"}),
	}

	reg.MustRegister(
		p.clicksIssued,
		p.clicksRateLimited,
		p.claims,
		p.eventsRecorded,
		p.eventsBlocked,
		p.postbacks,
		p.postbackDuration,
		p.postbackRetries,
	)

	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// IncClickIssued increments the issued click counter.
func (p *PrometheusRecorder) IncClickIssued() {
	p.clicksIssued.Inc()
}

// IncClickRateLimited increments the rate limited click counter.
func (p *PrometheusRecorder) IncClickRateLimited() {
	p.clicksRateLimited.Inc()
}

// IncClaim increments the claim counter.
func (p *PrometheusRecorder) IncClaim(status string) {
	p.claims.WithLabelValues(status).Inc()
}

// IncEventRecorded increments the recorded event counter.
func (p *PrometheusRecorder) IncEventRecorded(eventType string, created bool) {
	p.eventsRecorded.WithLabelValues(eventType, strconv.FormatBool(created)).Inc()
}

// IncEventBlocked increments the blocked event counter.
func (p *PrometheusRecorder) IncEventBlocked(reason string) {
	p.eventsBlocked.WithLabelValues(reason).Inc()
}

// IncPostback increments the postback counter.
func (p *PrometheusRecorder) IncPostback(status string) {
	p.postbacks.WithLabelValues(status).Inc()
}

// ObservePostbackDuration records postback duration.
func (p *PrometheusRecorder) ObservePostbackDuration(duration time.Duration) {
	p.postbackDuration.Observe(duration.Seconds())
}

// IncPostbackRetry increments the retry counter.
func (p *PrometheusRecorder) IncPostbackRetry(status string) {
	p.postbackRetries.WithLabelValues(status).Inc()
}
