package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgcpa/tgcpa/internal/antifraud"
	"github.com/tgcpa/tgcpa/internal/metrics"
	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/postback"
	"github.com/tgcpa/tgcpa/internal/repository"
)

// EventStore persists events.
type EventStore interface {
	InsertEvent(ctx context.Context, event *model.Event) (*model.Event, bool, error)
	FindEventSince(ctx context.Context, offerID string, tgID int64, et model.EventType, since time.Time) (*model.Event, error)
}

// ClickLookup resolves a click by id.
type ClickLookup interface {
	GetClick(ctx context.Context, id string) (*model.Click, error)
}

// Gate decides whether an event may be recorded.
type Gate interface {
	Evaluate(ctx context.Context, c antifraud.Check) (antifraud.Reason, error)
	DayStart() time.Time
}

// RecordInput describes one qualifying user action.
type RecordInput struct {
	OfferID   string         `json:"offer_id"`
	TgID      int64          `json:"tg_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	// ClickID is the internal click id, when the caller knows it.
	ClickID     string `json:"click_id,omitempty"`
	UID         string `json:"uid,omitempty"`
	PayoutCents *int64 `json:"payout_cents,omitempty"`
	// ForcePostbackOnDedup resends the postback for an already recorded
	// event.
	ForcePostbackOnDedup bool `json:"force_postback_on_dedup,omitempty"`
}

// Blocked reports which anti-fraud rule stopped an event.
type Blocked struct {
	Reason antifraud.Reason `json:"reason"`
}

// RecordResult is the outcome of Record.
type RecordResult struct {
	EventID    string             `json:"event_id,omitempty"`
	Created    bool               `json:"created"`
	Postback   *postback.Result   `json:"postback,omitempty"`
	Attachment *model.Attribution `json:"attachment,omitempty"`
	Blocked    *Blocked           `json:"blocked,omitempty"`
}

// PostbackError reports a postback failure for an event that is stored.
// EventCreated is true whenever the event row exists, whether this call
// or an earlier one inserted it; RecordResult.Created tells which.
type PostbackError struct {
	EventID      string
	EventCreated bool
	Err          error
}

func (e *PostbackError) Error() string {
	return fmt.Sprintf("postback for event %s failed: %v", e.EventID, e.Err)
}

func (e *PostbackError) Unwrap() error {
	return e.Err
}

// RecorderConfig holds recorder settings.
type RecorderConfig struct {
	// Location sets the calendar day used in idempotency keys.
	Location *time.Location
}

// EventRecorder turns qualifying actions into deduplicated event rows
// and triggers their postbacks.
type EventRecorder struct {
	events       EventStore
	attributions AttributionStore
	clicks       ClickLookup
	gate         Gate
	sender       postback.Sender
	loc          *time.Location
	logger       *slog.Logger
	metrics      metrics.Recorder
	now          func() time.Time
}

// NewEventRecorder creates an EventRecorder.
func NewEventRecorder(events EventStore, attributions AttributionStore, clicks ClickLookup, gate Gate, sender postback.Sender, cfg RecorderConfig, logger *slog.Logger, recorder metrics.Recorder) *EventRecorder {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRecorder{
		events:       events,
		attributions: attributions,
		clicks:       clicks,
		gate:         gate,
		sender:       sender,
		loc:          cfg.Location,
		logger:       logger.With("component", "service.recorder"),
		metrics:      recorder,
		now:          time.Now,
	}
}

// SetClock overrides the time source used for idempotency keys.
func (r *EventRecorder) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Record validates, gates, stores and notifies one event. A blocked event
// is a result, not an error. A postback failure after the event was
// stored returns the result together with a *PostbackError.
func (r *EventRecorder) Record(ctx context.Context, in RecordInput) (*RecordResult, error) {
	if in.OfferID == "" {
		return nil, ErrMissingOfferID
	}
	if in.TgID == 0 {
		return nil, ErrMissingTgID
	}
	et, err := model.ParseEventType(in.EventType)
	if err != nil {
		return nil, err
	}

	reason, err := r.gate.Evaluate(ctx, antifraud.Check{
		OfferID:   in.OfferID,
		TgID:      in.TgID,
		EventType: et,
		ClickID:   in.ClickID,
		MessageID: model.PayloadString(in.Payload, model.PayloadMessageID),
	})
	if err != nil {
		return nil, err
	}
	if reason != "" {
		r.metrics.IncEventBlocked(string(reason))
		r.logger.Info("event blocked",
			"offer_id", in.OfferID,
			"tg_id", in.TgID,
			"event_type", et,
			"reason", reason,
		)
		return &RecordResult{Blocked: &Blocked{Reason: reason}}, nil
	}

	if et != model.EventReaction {
		existing, err := r.events.FindEventSince(ctx, in.OfferID, in.TgID, et, r.gate.DayStart())
		switch {
		case err == nil:
			return r.deduplicated(ctx, in, existing)
		case !errors.Is(err, repository.ErrEventNotFound):
			return nil, err
		}
	}

	event := &model.Event{
		ID:             generateULID(),
		OfferID:        in.OfferID,
		TgID:           in.TgID,
		EventType:      et,
		Payload:        in.Payload,
		IdempotencyKey: model.IdempotencyKey(in.OfferID, in.TgID, et, in.Payload, r.now(), r.loc),
	}

	stored, created, err := r.events.InsertEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	if !created {
		return r.deduplicated(ctx, in, stored)
	}

	r.metrics.IncEventRecorded(string(et), true)
	r.logger.Info("event recorded",
		"event_id", stored.ID,
		"offer_id", stored.OfferID,
		"tg_id", stored.TgID,
		"event_type", et,
	)

	result := &RecordResult{EventID: stored.ID, Created: true}
	result.Attachment = r.attach(ctx, in)

	res, err := r.sendPostback(ctx, in, stored, result.Attachment, false)
	result.Postback = res
	if err != nil {
		return result, &PostbackError{EventID: stored.ID, EventCreated: true, Err: err}
	}
	return result, nil
}

// deduplicated handles an event that already exists for today.
func (r *EventRecorder) deduplicated(ctx context.Context, in RecordInput, existing *model.Event) (*RecordResult, error) {
	r.metrics.IncEventRecorded(string(existing.EventType), false)

	result := &RecordResult{EventID: existing.ID, Created: false}
	result.Attachment = r.attach(ctx, in)

	if !in.ForcePostbackOnDedup {
		return result, nil
	}

	res, err := r.sendPostback(ctx, in, existing, result.Attachment, true)
	result.Postback = res
	if err != nil {
		return result, &PostbackError{EventID: existing.ID, EventCreated: true, Err: err}
	}
	return result, nil
}

// attach upserts the attribution and marks it converted. Failures are
// logged; the event stays recorded.
func (r *EventRecorder) attach(ctx context.Context, in RecordInput) *model.Attribution {
	attr, err := r.attributions.UpsertAttribution(ctx, model.AttributionInput{
		TgID:    in.TgID,
		OfferID: in.OfferID,
		UID:     in.UID,
		ClickID: in.ClickID,
	})
	if err != nil {
		r.logger.Warn("failed to attach attribution", "offer_id", in.OfferID, "tg_id", in.TgID, "error", err)
		return nil
	}

	if err := r.attributions.MarkConverted(ctx, in.TgID, in.OfferID); err != nil {
		r.logger.Warn("failed to mark attribution converted", "offer_id", in.OfferID, "tg_id", in.TgID, "error", err)
		return attr
	}
	attr.State = model.AttributionConverted
	return attr
}

func (r *EventRecorder) sendPostback(ctx context.Context, in RecordInput, event *model.Event, attr *model.Attribution, force bool) (*postback.Result, error) {
	uid := in.UID
	clickID := in.ClickID
	if attr != nil {
		if uid == "" {
			uid = attr.UIDValue()
		}
		if clickID == "" {
			clickID = attr.ClickIDValue()
		}
	}
	if clickID != "" && r.clicks != nil {
		click, err := r.clicks.GetClick(ctx, clickID)
		if err == nil {
			clickID = click.PostbackClickID()
			if uid == "" {
				uid = click.UID
			}
		} else if !errors.Is(err, repository.ErrClickNotFound) {
			r.logger.Warn("failed to resolve click for postback", "click_id", clickID, "error", err)
		}
	}

	return r.sender.Send(ctx, postback.Request{
		OfferID:     event.OfferID,
		EventID:     event.ID,
		EventType:   event.EventType,
		TgID:        event.TgID,
		UID:         uid,
		ClickID:     clickID,
		PayoutCents: in.PayoutCents,
		Payload:     event.Payload,
		SkipGuard:   force,
	})
}
