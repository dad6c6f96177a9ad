package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// PostbackStatus is the outcome of one delivery attempt.
type PostbackStatus string

const (
	PostbackSent    PostbackStatus = "sent"
	PostbackFailed  PostbackStatus = "failed"
	PostbackDryRun  PostbackStatus = "dry-run"
	PostbackDedup   PostbackStatus = "dedup"
	PostbackSkipped PostbackStatus = "skipped"
)

// MaxResponseBodyLen bounds the stored response body.
const MaxResponseBodyLen = 1024

// PostbackLog is one append-only delivery attempt row.
type PostbackLog struct {
	ID             string         `json:"id"`
	OfferID        string         `json:"offer_id"`
	EventID        *string        `json:"event_id,omitempty"`
	URL            string         `json:"url,omitempty"`
	Method         string         `json:"method"`
	HTTPStatus     *int           `json:"http_status,omitempty"`
	ResponseTimeMS *int64         `json:"response_time_ms,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
	Attempt        int            `json:"attempt"`
	Status         PostbackStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
	Signature      string         `json:"signature,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Succeeded reports whether the attempt got a 2xx response.
func (l *PostbackLog) Succeeded() bool {
	return l.Status == PostbackSent
}

// IsRetryable reports whether the attempt failed and may be resent.
func (l *PostbackLog) IsRetryable() bool {
	if l.Status != PostbackFailed {
		return false
	}
	return l.HTTPStatus == nil || *l.HTTPStatus < 200 || *l.HTTPStatus >= 300
}

// EventIDValue returns the event id or empty string.
func (l *PostbackLog) EventIDValue() string {
	if l.EventID == nil {
		return ""
	}
	return *l.EventID
}

// MaxErrorLen bounds the stored error text.
const MaxErrorLen = 500

// TruncateBody bounds a response body for storage.
func TruncateBody(body string) string {
	return TruncateUTF8(body, MaxResponseBodyLen)
}

// TruncateUTF8 replaces invalid UTF-8 and cuts s to at most max bytes on
// a rune boundary. Postgres rejects text columns holding invalid UTF-8.
func TruncateUTF8(s string, max int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= max {
		return s
	}
	n := max
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
