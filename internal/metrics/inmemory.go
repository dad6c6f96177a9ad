package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	ClicksIssued            uint64
	ClicksRateLimited       uint64
	Claims                  map[string]uint64
	EventsCreated           uint64
	EventsDuplicate         uint64
	EventsBlocked           map[string]uint64
	Postbacks               map[string]uint64
	PostbackDurationCount   uint64
	PostbackDurationTotalNs int64
	PostbackRetries         map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests and for
// deployments without a scraper.
type InMemoryRecorder struct {
	clicksIssued            uint64
	clicksRateLimited       uint64
	eventsCreated           uint64
	eventsDuplicate         uint64
	postbackDurationCount   uint64
	postbackDurationTotalNs int64

	mu              sync.Mutex
	claims          map[string]uint64
	eventsBlocked   map[string]uint64
	postbacks       map[string]uint64
	postbackRetries map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		claims:          map[string]uint64{},
		eventsBlocked:   map[string]uint64{},
		postbacks:       map[string]uint64{},
		postbackRetries: map[string]uint64{},
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		ClicksIssued:            atomic.LoadUint64(&m.clicksIssued),
		ClicksRateLimited:       atomic.LoadUint64(&m.clicksRateLimited),
		Claims:                  copyCounts(m.claims),
		EventsCreated:           atomic.LoadUint64(&m.eventsCreated),
		EventsDuplicate:         atomic.LoadUint64(&m.eventsDuplicate),
		EventsBlocked:           copyCounts(m.eventsBlocked),
		Postbacks:               copyCounts(m.postbacks),
		PostbackDurationCount:   atomic.LoadUint64(&m.postbackDurationCount),
		PostbackDurationTotalNs: atomic.LoadInt64(&m.postbackDurationTotalNs),
		PostbackRetries:         copyCounts(m.postbackRetries),
	}
}

// IncClickIssued increments the issued click counter.
func (m *InMemoryRecorder) IncClickIssued() {
	atomic.AddUint64(&m.clicksIssued, 1)
}

// IncClickRateLimited increments the rate limited click counter.
func (m *InMemoryRecorder) IncClickRateLimited() {
	atomic.AddUint64(&m.clicksRateLimited, 1)
}

// IncClaim increments the claim counter for status.
func (m *InMemoryRecorder) IncClaim(status string) {
	m.inc(m.claims, status)
}

// IncEventRecorded increments created or duplicate event counters.
func (m *InMemoryRecorder) IncEventRecorded(eventType string, created bool) {
	if created {
		atomic.AddUint64(&m.eventsCreated, 1)
		return
	}
	atomic.AddUint64(&m.eventsDuplicate, 1)
}

// IncEventBlocked increments the blocked counter for reason.
func (m *InMemoryRecorder) IncEventBlocked(reason string) {
	m.inc(m.eventsBlocked, reason)
}

// IncPostback increments the postback counter for status.
func (m *InMemoryRecorder) IncPostback(status string) {
	m.inc(m.postbacks, status)
}

// ObservePostbackDuration records postback round-trip duration.
func (m *InMemoryRecorder) ObservePostbackDuration(duration time.Duration) {
	atomic.AddUint64(&m.postbackDurationCount, 1)
	atomic.AddInt64(&m.postbackDurationTotalNs, duration.Nanoseconds())
}

// IncPostbackRetry increments the retry counter for status.
func (m *InMemoryRecorder) IncPostbackRetry(status string) {
	m.inc(m.postbackRetries, status)
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
