package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tgcpa/tgcpa/internal/metrics"
	"github.com/tgcpa/tgcpa/internal/model"
)

// AttributionStore links Telegram users to offers.
type AttributionStore interface {
	UpsertAttribution(ctx context.Context, in model.AttributionInput) (*model.Attribution, error)
	MarkConverted(ctx context.Context, tgID int64, offerID string) error
}

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	Click       *model.Click       `json:"click"`
	Attribution *model.Attribution `json:"attribution"`
}

// ClaimService redeems a start token and records the attribution.
type ClaimService struct {
	clicks       *ClickService
	attributions AttributionStore
	logger       *slog.Logger
	metrics      metrics.Recorder
}

// NewClaimService creates a ClaimService.
func NewClaimService(clicks *ClickService, attributions AttributionStore, logger *slog.Logger, recorder metrics.Recorder) *ClaimService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimService{
		clicks:       clicks,
		attributions: attributions,
		logger:       logger.With("component", "service.claim"),
		metrics:      recorder,
	}
}

// Claim redeems token for tgID and upserts the (user, offer) attribution
// with the click's uid, id and suspect flag.
func (s *ClaimService) Claim(ctx context.Context, token string, tgID int64) (*ClaimResult, error) {
	click, err := s.clicks.RedeemToken(ctx, token, tgID)
	if err != nil {
		if errors.Is(err, ErrClickNotFound) {
			s.metrics.IncClaim("not_found")
		} else {
			s.metrics.IncClaim("error")
		}
		return nil, err
	}

	attr, err := s.attributions.UpsertAttribution(ctx, model.AttributionInput{
		TgID:      tgID,
		OfferID:   click.OfferID,
		UID:       click.UID,
		ClickID:   click.ID,
		SuspectIP: click.SuspectIP(),
	})
	if err != nil {
		s.metrics.IncClaim("error")
		return nil, err
	}

	s.metrics.IncClaim("claimed")
	s.logger.Info("start token claimed",
		"click_id", click.ID,
		"offer_id", click.OfferID,
		"tg_id", tgID,
		"suspect_ip", click.SuspectIP(),
	)
	return &ClaimResult{Click: click, Attribution: attr}, nil
}
