package telegram

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AllowedUpdates are the update kinds the adapter translates.
var AllowedUpdates = []string{"message", "chat_member", "poll_answer"}

// UpdateSource is the long-polling side of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler processes one update.
type Handler interface {
	HandleUpdate(ctx context.Context, u tgbotapi.Update) error
}

// Poller long-polls updates and hands them to a Handler one at a time.
type Poller struct {
	source         UpdateSource
	handler        Handler
	logger         *slog.Logger
	timeout        int
	handlerTimeout time.Duration
}

// NewPoller creates a Poller with a 60s long-poll timeout.
func NewPoller(source UpdateSource, handler Handler, logger *slog.Logger) *Poller {
	return &Poller{
		source:         source,
		handler:        handler,
		logger:         logger.With("component", "telegram.poller"),
		timeout:        60,
		handlerTimeout: 15 * time.Second,
	}
}

// Run processes updates until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = p.timeout
	cfg.AllowedUpdates = AllowedUpdates

	updates := p.source.GetUpdatesChan(cfg)
	p.logger.Info("bot poller started")

	for {
		select {
		case <-ctx.Done():
			p.source.StopReceivingUpdates()
			p.logger.Info("bot poller stopped")
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			p.handle(ctx, u)
		}
	}
}

func (p *Poller) handle(ctx context.Context, u tgbotapi.Update) {
	hctx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	defer cancel()

	defer func() {
		if rvr := recover(); rvr != nil {
			p.logger.Error("update handler panic", "update_id", u.UpdateID, "panic", rvr)
		}
	}()

	if err := p.handler.HandleUpdate(hctx, u); err != nil {
		p.logger.Error("update handling failed", "update_id", u.UpdateID, "error", err)
	}
}

// BotReplier sends plain text replies through the Bot API.
type BotReplier struct {
	bot *tgbotapi.BotAPI
}

// NewBotReplier wraps bot.
func NewBotReplier(bot *tgbotapi.BotAPI) *BotReplier {
	return &BotReplier{bot: bot}
}

// Reply sends text to chatID.
func (r *BotReplier) Reply(chatID int64, text string) error {
	_, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
