package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncClickIssued is a no-op.
func (n *NoopRecorder) IncClickIssued() {}

// IncClickRateLimited is a no-op.
func (n *NoopRecorder) IncClickRateLimited() {}

// IncClaim is a no-op.
func (n *NoopRecorder) IncClaim(status string) {}

// IncEventRecorded is a no-op.
func (n *NoopRecorder) IncEventRecorded(eventType string, created bool) {}

// IncEventBlocked is a no-op.
func (n *NoopRecorder) IncEventBlocked(reason string) {}

// IncPostback is a no-op.
func (n *NoopRecorder) IncPostback(status string) {}

// ObservePostbackDuration is a no-op.
func (n *NoopRecorder) ObservePostbackDuration(duration time.Duration) {}

// IncPostbackRetry is a no-op.
func (n *NoopRecorder) IncPostbackRetry(status string) {}
