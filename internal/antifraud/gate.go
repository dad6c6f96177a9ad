// Package antifraud holds the read-only rules evaluated before an event is
// recorded.
package antifraud

import (
	"context"
	"fmt"
	"time"

	"github.com/tgcpa/tgcpa/internal/model"
)

// Reason names the rule that blocked an event.
type Reason string

const (
	ReasonSuspectIP        Reason = "suspect_ip"
	ReasonPrimaryCap       Reason = "primary_cap"
	ReasonReactionDebounce Reason = "reaction_debounce"
)

// Defaults for the gate rules.
const (
	DefaultPrimaryDailyCap = 3
	DefaultReactionWindow  = 60 * time.Second
)

// Store is the read side the gate depends on.
type Store interface {
	HasSuspectFlag(ctx context.Context, offerID string, tgID int64, clickID string) (bool, error)
	CountEventsSince(ctx context.Context, offerID string, tgID int64, et model.EventType, since time.Time) (int, error)
	HasRecentReaction(ctx context.Context, offerID string, tgID int64, messageID string, window time.Duration) (bool, error)
}

// Check is the input to Evaluate.
type Check struct {
	OfferID   string
	TgID      int64
	EventType model.EventType
	ClickID   string
	MessageID string
}

// Gate evaluates suspect IP, primary cap and reaction debounce in that
// order.
type Gate struct {
	store          Store
	primaryCap     int
	reactionWindow time.Duration
	loc            *time.Location
	now            func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithPrimaryCap overrides the daily cap for primary events.
func WithPrimaryCap(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.primaryCap = n
		}
	}
}

// WithReactionWindow overrides the reaction debounce window.
func WithReactionWindow(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.reactionWindow = d
		}
	}
}

// WithLocation sets the timezone whose midnight starts a day.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate creates a gate over store.
func NewGate(store Store, opts ...Option) *Gate {
	g := &Gate{
		store:          store,
		primaryCap:     DefaultPrimaryDailyCap,
		reactionWindow: DefaultReactionWindow,
		loc:            time.UTC,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate runs every rule in order and returns the first tripped reason,
// or "" when the event may proceed.
func (g *Gate) Evaluate(ctx context.Context, c Check) (Reason, error) {
	suspect, err := g.HasSuspectAttribution(ctx, c.OfferID, c.TgID, c.ClickID)
	if err != nil {
		return "", err
	}
	if suspect {
		return ReasonSuspectIP, nil
	}

	capped, err := g.ShouldBlockPrimaryEvent(ctx, c.OfferID, c.TgID, c.EventType)
	if err != nil {
		return "", err
	}
	if capped {
		return ReasonPrimaryCap, nil
	}

	if c.EventType == model.EventReaction {
		debounced, err := g.ShouldDebounceReaction(ctx, c.OfferID, c.TgID, c.MessageID)
		if err != nil {
			return "", err
		}
		if debounced {
			return ReasonReactionDebounce, nil
		}
	}

	return "", nil
}

// HasSuspectAttribution reports whether the click or attribution carries
// the suspect_ip flag.
func (g *Gate) HasSuspectAttribution(ctx context.Context, offerID string, tgID int64, clickID string) (bool, error) {
	suspect, err := g.store.HasSuspectFlag(ctx, offerID, tgID, clickID)
	if err != nil {
		return false, fmt.Errorf("suspect check: %w", err)
	}
	return suspect, nil
}

// ShouldBlockPrimaryEvent reports whether a primary event already reached
// the daily cap for this (offer, user, type).
func (g *Gate) ShouldBlockPrimaryEvent(ctx context.Context, offerID string, tgID int64, et model.EventType) (bool, error) {
	if !et.IsPrimary() {
		return false, nil
	}

	count, err := g.store.CountEventsSince(ctx, offerID, tgID, et, g.DayStart())
	if err != nil {
		return false, fmt.Errorf("primary cap check: %w", err)
	}
	return count >= g.primaryCap, nil
}

// ShouldDebounceReaction reports a reaction to the same message inside the
// debounce window.
func (g *Gate) ShouldDebounceReaction(ctx context.Context, offerID string, tgID int64, messageID string) (bool, error) {
	recent, err := g.store.HasRecentReaction(ctx, offerID, tgID, messageID, g.reactionWindow)
	if err != nil {
		return false, fmt.Errorf("reaction debounce check: %w", err)
	}
	return recent, nil
}

// DayStart returns the most recent midnight in the gate's location.
func (g *Gate) DayStart() time.Time {
	return DayStart(g.now(), g.loc)
}

// DayStart truncates t to midnight in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
