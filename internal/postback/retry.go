package postback

import "time"

// Backoff before the automatic worker resends a failed attempt.
// After attempt 1: 1 min, 2: 5 min, 3: 30 min, 4: 2 hours, 5+: 12 hours.
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// DefaultMaxAttempts is the default maximum delivery attempts.
const DefaultMaxAttempts = 5

// RetryDelay returns the backoff after a failed attempt (1-indexed).
// The same table drives the due filter in Repository.ListDue.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryDelays) {
		attempt = len(retryDelays)
	}
	return retryDelays[attempt-1]
}

// IsDue reports whether a failure logged as attempt at failedAt has
// waited out its backoff.
func IsDue(attempt int, failedAt, now time.Time) bool {
	return !now.Before(failedAt.Add(RetryDelay(attempt)))
}

// delaySeconds is the backoff table as a Postgres float8[] argument.
func delaySeconds() []float64 {
	out := make([]float64, len(retryDelays))
	for i, d := range retryDelays {
		out[i] = d.Seconds()
	}
	return out
}

// IsExhausted returns true if max attempts have been reached.
func IsExhausted(attemptCount, maxAttempts int) bool {
	return attemptCount >= maxAttempts
}

// GetRetryDelays returns the configured retry delays.
func GetRetryDelays() []time.Duration {
	return append([]time.Duration{}, retryDelays...)
}
