package postback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/tgcpa/tgcpa/internal/metrics"
	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/repository"
)

// Sweep limits.
const (
	DefaultSweepLimit = 5
	MaxSweepLimit     = 50
)

// Structured reasons for retries that could not be resent.
const (
	ReasonMissingEventID  = "missing_event_id"
	ReasonEventNotFound   = "event_not_found"
	ReasonClickNotFound   = "click_not_found"
	ReasonAttemptConflict = "attempt_conflict"
)

// ContextStore resolves the original context of a failed postback.
type ContextStore interface {
	GetOfferBySlug(ctx context.Context, slug string) (*model.Offer, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	GetAttribution(ctx context.Context, tgID int64, offerID string) (*model.Attribution, error)
	GetClick(ctx context.Context, id string) (*model.Click, error)
}

// CandidateStore lists failed attempts and appends skip rows.
type CandidateStore interface {
	LogStore
	ListRetryCandidates(ctx context.Context, offerID string, limit int) ([]*model.PostbackLog, error)
}

// Sender is the delivery path shared with first sends.
type Sender interface {
	Send(ctx context.Context, req Request) (*Result, error)
}

// RetryOutcome is one line of the sweep report.
type RetryOutcome struct {
	PostbackID  string               `json:"postback_id"`
	EventID     string               `json:"event_id,omitempty"`
	PrevAttempt int                  `json:"prev_attempt"`
	NewAttempt  int                  `json:"new_attempt,omitempty"`
	Status      model.PostbackStatus `json:"status"`
	HTTPStatus  int                  `json:"http_status,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// RetryReport is the audit result of a sweep.
type RetryReport struct {
	OK      bool           `json:"ok"`
	Offer   *model.Offer   `json:"offer"`
	Retries []RetryOutcome `json:"retries"`
}

// Sweeper resends failed postbacks from the persisted log.
type Sweeper struct {
	store   ContextStore
	logs    CandidateStore
	sender  Sender
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewSweeper creates a sweeper.
func NewSweeper(store ContextStore, logs CandidateStore, sender Sender, logger *slog.Logger, recorder metrics.Recorder) *Sweeper {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:   store,
		logs:    logs,
		sender:  sender,
		logger:  logger.With("component", "postback.sweeper"),
		metrics: recorder,
	}
}

// ClampLimit applies the default and hard maximum to a sweep limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSweepLimit
	}
	if limit > MaxSweepLimit {
		return MaxSweepLimit
	}
	return limit
}

// RetryFailedForSlug resends up to limit of the offer's latest failed
// postbacks. Each resend appends a new row with attempt = previous + 1.
func (s *Sweeper) RetryFailedForSlug(ctx context.Context, slug string, limit int) (*RetryReport, error) {
	offer, err := s.store.GetOfferBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	candidates, err := s.logs.ListRetryCandidates(ctx, offer.ID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list retry candidates: %w", err)
	}

	return s.RetryCandidates(ctx, offer, candidates), nil
}

// RetryCandidates resends the given failed attempts of one offer.
func (s *Sweeper) RetryCandidates(ctx context.Context, offer *model.Offer, candidates []*model.PostbackLog) *RetryReport {
	report := &RetryReport{OK: true, Offer: offer, Retries: make([]RetryOutcome, 0, len(candidates))}

	for _, prev := range candidates {
		if ctx.Err() != nil {
			break
		}
		outcome := s.retryOne(ctx, offer, prev)
		s.metrics.IncPostbackRetry(string(outcome.Status))
		report.Retries = append(report.Retries, outcome)
	}

	s.logger.Info("postback sweep finished",
		"offer_id", offer.ID,
		"slug", offer.Slug,
		"candidates", len(candidates),
		"retried", len(report.Retries),
	)
	return report
}

func (s *Sweeper) retryOne(ctx context.Context, offer *model.Offer, prev *model.PostbackLog) RetryOutcome {
	out := RetryOutcome{
		PostbackID:  prev.ID,
		EventID:     prev.EventIDValue(),
		PrevAttempt: prev.Attempt,
	}

	if prev.EventID == nil {
		out.Status = model.PostbackSkipped
		out.Reason = ReasonMissingEventID
		return out
	}

	event, err := s.store.GetEvent(ctx, *prev.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return s.skip(ctx, offer, prev, out, ReasonEventNotFound)
		}
		return s.errored(out, err)
	}

	var uid, clickID string
	attr, err := s.store.GetAttribution(ctx, event.TgID, event.OfferID)
	switch {
	case err == nil:
		uid = attr.UIDValue()
		if attr.ClickID != nil {
			click, err := s.store.GetClick(ctx, *attr.ClickID)
			if err != nil {
				if errors.Is(err, repository.ErrClickNotFound) {
					return s.skip(ctx, offer, prev, out, ReasonClickNotFound)
				}
				return s.errored(out, err)
			}
			clickID = click.PostbackClickID()
			if uid == "" {
				uid = click.UID
			}
		}
	case errors.Is(err, repository.ErrAttributionNotFound):
	default:
		return s.errored(out, err)
	}

	res, err := s.sender.Send(ctx, Request{
		OfferID:   offer.ID,
		EventID:   event.ID,
		EventType: event.EventType,
		TgID:      event.TgID,
		UID:       uid,
		ClickID:   clickID,
		Payload:   event.Payload,
		Attempt:   prev.Attempt + 1,
		SkipGuard: true,
	})

	if errors.Is(err, ErrAttemptConflict) {
		out.Status = model.PostbackSkipped
		out.Reason = ReasonAttemptConflict
		return out
	}
	if res == nil {
		return s.errored(out, err)
	}

	out.NewAttempt = res.Attempt
	out.Status = res.Status
	out.HTTPStatus = res.HTTPStatus
	out.Error = res.Error
	return out
}

// skip appends a skipped row so the failed attempt is not reselected.
func (s *Sweeper) skip(ctx context.Context, offer *model.Offer, prev *model.PostbackLog, out RetryOutcome, reason string) RetryOutcome {
	row := &model.PostbackLog{
		ID:      ulid.Make().String(),
		OfferID: offer.ID,
		EventID: prev.EventID,
		URL:     prev.URL,
		Method:  prev.Method,
		Attempt: prev.Attempt + 1,
		Status:  model.PostbackSkipped,
		Error:   reason,
	}
	out.Status = model.PostbackSkipped
	out.Reason = reason

	if err := s.logs.InsertAttempt(ctx, row); err != nil {
		s.logger.Warn("failed to log skipped retry", "postback_id", prev.ID, "error", err)
		out.Error = err.Error()
		return out
	}
	out.NewAttempt = row.Attempt
	return out
}

func (s *Sweeper) errored(out RetryOutcome, err error) RetryOutcome {
	s.logger.Warn("postback retry failed", "postback_id", out.PostbackID, "error", err)
	out.Status = model.PostbackFailed
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
