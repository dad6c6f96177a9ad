package model

import "time"

// Meta keys set by collaborators outside the core.
const (
	MetaSuspectIP = "suspect_ip"
)

// Meta holds free-form flags stored as JSONB.
type Meta map[string]any

// Flag reports whether a boolean flag is set.
func (m Meta) Flag(key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key].(bool)
	return ok && v
}

// Click is a single traffic-source visit routed to an offer.
type Click struct {
	ID              string     `json:"id"`
	OfferID         string     `json:"offer_id"`
	UID             string     `json:"uid,omitempty"`
	ExternalClickID string     `json:"click_id,omitempty"`
	StartToken      string     `json:"start_token"`
	Source          string     `json:"source,omitempty"`
	Sub1            string     `json:"sub1,omitempty"`
	Sub2            string     `json:"sub2,omitempty"`
	IP              string     `json:"ip,omitempty"`
	UserAgent       string     `json:"user_agent,omitempty"`
	Referer         string     `json:"referer,omitempty"`
	Meta            Meta       `json:"meta,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	TgID            *int64     `json:"tg_id,omitempty"`
}

// IsRedeemed returns true once a Telegram user has claimed the click.
func (c *Click) IsRedeemed() bool {
	return c.UsedAt != nil
}

// SuspectIP reports the externally computed IP reputation flag.
func (c *Click) SuspectIP() bool {
	return c.Meta.Flag(MetaSuspectIP)
}

// ClickParams are the tracking parameters captured on a link visit.
type ClickParams struct {
	UID             string
	ExternalClickID string
	Source          string
	Sub1            string
	Sub2            string
	IP              string
	UserAgent       string
	Referer         string
	SuspectIP       bool
}

// PostbackClickID is the click identifier reported to advertisers: the
// source's own click id when one was captured, else the internal id.
func (c *Click) PostbackClickID() string {
	if c.ExternalClickID != "" {
		return c.ExternalClickID
	}
	return c.ID
}
