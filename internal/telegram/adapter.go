package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/repository"
	"github.com/tgcpa/tgcpa/internal/service"
)

// Coarse replies shown to end users.
const (
	ReplyLinked   = "You're in. Complete the task to get it counted."
	ReplyNoToken  = "Open the bot through an offer link to take part."
	ReplyBadToken = "This link has expired. Open the offer link again."
	ReplyCounted  = "Counted."
	ReplyNotYet   = "Not counted yet."
	ReplyLater    = "Something went wrong. Try again later."
)

// Claimer redeems start tokens.
type Claimer interface {
	Claim(ctx context.Context, token string, tgID int64) (*service.ClaimResult, error)
}

// Recorder records events.
type Recorder interface {
	Record(ctx context.Context, in service.RecordInput) (*service.RecordResult, error)
}

// AttributionLookup finds the offer a user most recently engaged with.
type AttributionLookup interface {
	GetLatestAttribution(ctx context.Context, tgID int64) (*model.Attribution, error)
}

// Replier sends a text message to a chat.
type Replier interface {
	Reply(chatID int64, text string) error
}

// Adapter executes translated updates against the tracker.
type Adapter struct {
	claims       Claimer
	recorder     Recorder
	attributions AttributionLookup
	replier      Replier
	logger       *slog.Logger
}

// NewAdapter creates an Adapter. replier may be nil to suppress replies.
func NewAdapter(claims Claimer, recorder Recorder, attributions AttributionLookup, replier Replier, logger *slog.Logger) *Adapter {
	return &Adapter{
		claims:       claims,
		recorder:     recorder,
		attributions: attributions,
		replier:      replier,
		logger:       logger.With("component", "telegram.adapter"),
	}
}

// HandleUpdate translates and executes one update.
func (a *Adapter) HandleUpdate(ctx context.Context, u tgbotapi.Update) error {
	action := Translate(u)
	switch action.Kind {
	case ActionClaim:
		return a.claim(ctx, action)
	case ActionEvent:
		return a.record(ctx, action)
	}
	return nil
}

func (a *Adapter) claim(ctx context.Context, action Action) error {
	if action.Token == "" {
		a.reply(action.ReplyChatID, ReplyNoToken)
		return nil
	}

	res, err := a.claims.Claim(ctx, action.Token, action.TgID)
	if err != nil {
		if errors.Is(err, service.ErrClickNotFound) {
			a.reply(action.ReplyChatID, ReplyBadToken)
			return nil
		}
		a.reply(action.ReplyChatID, ReplyLater)
		return fmt.Errorf("claim: %w", err)
	}

	a.logger.Info("start token claimed", "tg_id", action.TgID, "offer_id", res.Click.OfferID)
	a.reply(action.ReplyChatID, ReplyLinked)
	return nil
}

// record resolves the offer through the user's latest attribution. A
// user who engaged with several offers is credited to the most recent
// one.
func (a *Adapter) record(ctx context.Context, action Action) error {
	attr, err := a.attributions.GetLatestAttribution(ctx, action.TgID)
	if err != nil {
		if errors.Is(err, repository.ErrAttributionNotFound) {
			a.logger.Debug("action from unattributed user", "tg_id", action.TgID, "event_type", action.EventType)
			return nil
		}
		return fmt.Errorf("latest attribution: %w", err)
	}

	res, err := a.recorder.Record(ctx, service.RecordInput{
		OfferID:   attr.OfferID,
		TgID:      action.TgID,
		EventType: string(action.EventType),
		Payload:   action.Payload,
		ClickID:   attr.ClickIDValue(),
		UID:       attr.UIDValue(),
	})

	var pbErr *service.PostbackError
	switch {
	case errors.As(err, &pbErr):
		// The event is stored; the sweeper owns the failed notification.
		a.logger.Warn("postback failed after event", "event_id", pbErr.EventID, "error", pbErr.Err)
		a.reply(action.ReplyChatID, ReplyCounted)
		return nil
	case err != nil:
		a.reply(action.ReplyChatID, ReplyLater)
		return fmt.Errorf("record %s: %w", action.EventType, err)
	case res.Blocked != nil:
		a.reply(action.ReplyChatID, ReplyNotYet)
		return nil
	}

	a.reply(action.ReplyChatID, ReplyCounted)
	return nil
}

func (a *Adapter) reply(chatID int64, text string) {
	if chatID == 0 || a.replier == nil {
		return
	}
	if err := a.replier.Reply(chatID, text); err != nil {
		a.logger.Warn("reply failed", "chat_id", chatID, "error", err)
	}
}
