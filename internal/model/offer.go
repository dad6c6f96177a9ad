package model

import (
	"net/http"
	"strings"
	"time"
)

// Offer is an advertiser campaign. The core treats it as read-only
// postback configuration.
type Offer struct {
	ID                  string    `json:"id"`
	Slug                string    `json:"slug"`
	Title               string    `json:"title"`
	ActionType          EventType `json:"action_type"`
	PayoutCents         int64     `json:"payout_cents"`
	PostbackURL         string    `json:"-"`
	PostbackMethod      string    `json:"postback_method"`
	PostbackSecret      string    `json:"-"` // Never expose
	PostbackTimeoutMS   int       `json:"postback_timeout_ms"`
	PostbackMaxAttempts int       `json:"postback_max_attempts"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HasPostbackURL returns false when the offer runs in dry-run mode.
func (o *Offer) HasPostbackURL() bool {
	return strings.TrimSpace(o.PostbackURL) != ""
}

// Method returns the normalized postback HTTP method (POST or GET).
func (o *Offer) Method() string {
	if strings.EqualFold(strings.TrimSpace(o.PostbackMethod), http.MethodGet) {
		return http.MethodGet
	}
	return http.MethodPost
}

// PostbackTimeout returns the per-offer timeout, or def when unset.
func (o *Offer) PostbackTimeout(def time.Duration) time.Duration {
	if o.PostbackTimeoutMS > 0 {
		return time.Duration(o.PostbackTimeoutMS) * time.Millisecond
	}
	return def
}

// SecretOr returns the offer secret, falling back to the global default.
func (o *Offer) SecretOr(def string) string {
	if o.PostbackSecret != "" {
		return o.PostbackSecret
	}
	return def
}
