// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
type Recorder interface {
	// Click metrics
	IncClickIssued()
	IncClickRateLimited()
	IncClaim(status string) // status: "claimed" or "not_found"

	// Event metrics
	IncEventRecorded(eventType string, created bool)
	IncEventBlocked(reason string)

	// Postback metrics
	IncPostback(status string) // sent, failed, dry-run, dedup, skipped
	ObservePostbackDuration(duration time.Duration)
	IncPostbackRetry(status string)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
