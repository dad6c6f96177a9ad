package model

import "time"

// AttributionState is the lifecycle state of a (user, offer) binding.
type AttributionState string

const (
	AttributionStarted   AttributionState = "started"
	AttributionConverted AttributionState = "converted"
)

// Attribution binds a Telegram user to an offer.
type Attribution struct {
	TgID      int64            `json:"tg_id"`
	OfferID   string           `json:"offer_id"`
	UID       *string          `json:"uid,omitempty"`
	ClickID   *string          `json:"click_id,omitempty"`
	State     AttributionState `json:"state"`
	FirstSeen time.Time        `json:"first_seen"`
	LastSeen  time.Time        `json:"last_seen"`
	Meta      Meta             `json:"meta,omitempty"`
}

// IsConverted returns true once a qualifying event was recorded.
func (a *Attribution) IsConverted() bool {
	return a.State == AttributionConverted
}

// SuspectIP reports whether the attribution carries the suspect flag.
func (a *Attribution) SuspectIP() bool {
	return a.Meta.Flag(MetaSuspectIP)
}

// ClickIDValue returns the click id or empty string.
func (a *Attribution) ClickIDValue() string {
	if a.ClickID == nil {
		return ""
	}
	return *a.ClickID
}

// UIDValue returns the uid or empty string.
func (a *Attribution) UIDValue() string {
	if a.UID == nil {
		return ""
	}
	return *a.UID
}

// AttributionInput is the upsert input. Empty strings mean "no value"
// and never overwrite a populated column.
type AttributionInput struct {
	TgID      int64
	OfferID   string
	UID       string
	ClickID   string
	SuspectIP bool
}
