// Package model defines domain entities for the application.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedEventType is returned for event types outside ValidEventTypes.
var ErrUnsupportedEventType = errors.New("unsupported event type")

// EventType is a qualifying user action counted toward an offer.
type EventType string

const (
	EventJoinGroup        EventType = "join_group"
	EventSubscribe        EventType = "subscribe"
	EventComment          EventType = "comment"
	EventPollVote         EventType = "poll_vote"
	EventShare            EventType = "share"
	EventReaction         EventType = "reaction"
	EventMiniAppStart     EventType = "miniapp_start"
	EventExternalBotStart EventType = "external_bot_start"
)

// ValidEventTypes contains all accepted event types.
var ValidEventTypes = []EventType{
	EventJoinGroup,
	EventSubscribe,
	EventComment,
	EventPollVote,
	EventShare,
	EventReaction,
	EventMiniAppStart,
	EventExternalBotStart,
}

// primaryEventTypes are capped per user per day.
var primaryEventTypes = []EventType{
	EventJoinGroup,
	EventSubscribe,
	EventMiniAppStart,
	EventExternalBotStart,
}

// IsValidEventType checks if an event type is accepted.
func IsValidEventType(et EventType) bool {
	return slices.Contains(ValidEventTypes, et)
}

// ParseEventType normalizes and validates a raw event type.
func ParseEventType(raw string) (EventType, error) {
	et := EventType(strings.ToLower(strings.TrimSpace(raw)))
	if !IsValidEventType(et) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEventType, raw)
	}
	return et, nil
}

// IsPrimary reports whether the event type is subject to the daily cap.
func (et EventType) IsPrimary() bool {
	return slices.Contains(primaryEventTypes, et)
}

// Payload keys understood by the idempotency key builder.
const (
	PayloadChatID    = "chat_id"
	PayloadMessageID = "message_id"
	PayloadPollID    = "poll_id"
)

// Event is one de-duplicated qualifying action.
type Event struct {
	ID             string         `json:"id"`
	OfferID        string         `json:"offer_id"`
	TgID           int64          `json:"tg_id"`
	EventType      EventType      `json:"event_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MessageID returns the payload message id, or empty string.
func (e *Event) MessageID() string {
	return PayloadString(e.Payload, PayloadMessageID)
}

// Discriminator returns the natural discriminator of an occurrence:
// the chat, message and poll ids present in the payload joined by "/",
// or "-" when none is present.
func Discriminator(payload map[string]any) string {
	parts := make([]string, 0, 3)
	for _, key := range []string{PayloadChatID, PayloadMessageID, PayloadPollID} {
		if v := PayloadString(payload, key); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "/")
}

// IdempotencyKey derives the unique key of a logical occurrence.
// Reactions are bucketed per minute so that reactions spaced more than
// sixty seconds apart produce distinct keys; every other type is
// bucketed per calendar day in loc.
func IdempotencyKey(offerID string, tgID int64, et EventType, payload map[string]any, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var bucket string
	if et == EventReaction {
		bucket = "m" + strconv.FormatInt(at.Unix()/60, 10)
	} else {
		bucket = at.In(loc).Format("2006-01-02")
	}

	return fmt.Sprintf("%s:%d:%s:%s:%s", offerID, tgID, et, Discriminator(payload), bucket)
}

// PayloadString renders a payload value as a string. JSON numbers are
// rendered without exponent so large Telegram ids stay exact.
func PayloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}
