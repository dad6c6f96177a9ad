package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tgcpa/tgcpa/internal/cache"
	"github.com/tgcpa/tgcpa/internal/metrics"
	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/repository"
)

const (
	// startTokenBytes gives 72 bits of entropy, 12 base64url characters.
	startTokenBytes = 9
	maxTokenRetries = 5
)

// ClickStore persists clicks and redeems start tokens.
type ClickStore interface {
	CreateClick(ctx context.Context, click *model.Click) error
	RedeemToken(ctx context.Context, token string, tgID int64) (*model.Click, error)
}

// OfferStore reads offers.
type OfferStore interface {
	GetOffer(ctx context.Context, id string) (*model.Offer, error)
	GetOfferBySlug(ctx context.Context, slug string) (*model.Offer, error)
}

// OfferCache is the optional read-through cache for slug lookups.
type OfferCache interface {
	GetOffer(ctx context.Context, slug string) (*cache.CachedOffer, error)
	SetOffer(ctx context.Context, offer *model.Offer) error
	IsNegativelyCached(ctx context.Context, slug string) (bool, error)
	SetNegativeCache(ctx context.Context, slug string) error
}

// Reputation flags source IPs with a bad reputation.
type Reputation interface {
	IsSuspect(ip string) bool
}

// IssuedClick is the result of IssueClick.
type IssuedClick struct {
	ID         string `json:"id"`
	StartToken string `json:"start_token"`
}

// ClickService issues clicks and redeems their start tokens.
type ClickService struct {
	clicks     ClickStore
	offers     OfferStore
	cache      OfferCache
	reputation Reputation
	logger     *slog.Logger
	metrics    metrics.Recorder
	newToken   func() (string, error)
}

// NewClickService creates a ClickService. cache and reputation may be nil.
func NewClickService(clicks ClickStore, offers OfferStore, offerCache OfferCache, reputation Reputation, logger *slog.Logger, recorder metrics.Recorder) *ClickService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClickService{
		clicks:     clicks,
		offers:     offers,
		cache:      offerCache,
		reputation: reputation,
		logger:     logger.With("component", "service.click"),
		metrics:    recorder,
		newToken:   generateStartToken,
	}
}

// IssueClick stores a click for offerID and returns its start token.
// Token collisions are retried a bounded number of times.
func (s *ClickService) IssueClick(ctx context.Context, offerID string, params model.ClickParams) (*IssuedClick, error) {
	if offerID == "" {
		return nil, ErrMissingOfferID
	}

	meta := model.Meta{}
	if params.SuspectIP || (s.reputation != nil && params.IP != "" && s.reputation.IsSuspect(params.IP)) {
		meta[model.MetaSuspectIP] = true
	}

	click := &model.Click{
		ID:              uuid.NewString(),
		OfferID:         offerID,
		UID:             params.UID,
		ExternalClickID: params.ExternalClickID,
		Source:          params.Source,
		Sub1:            params.Sub1,
		Sub2:            params.Sub2,
		IP:              params.IP,
		UserAgent:       params.UserAgent,
		Referer:         params.Referer,
		Meta:            meta,
	}

	for attempt := 1; attempt <= maxTokenRetries; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("generate start token: %w", err)
		}
		click.StartToken = token

		err = s.clicks.CreateClick(ctx, click)
		if err == nil {
			s.metrics.IncClickIssued()
			if click.SuspectIP() {
				s.logger.Info("click issued from suspect ip", "click_id", click.ID, "offer_id", offerID)
			}
			return &IssuedClick{ID: click.ID, StartToken: token}, nil
		}
		if !errors.Is(err, repository.ErrStartTokenTaken) {
			return nil, err
		}
		s.logger.Warn("start token collision", "attempt", attempt)
	}

	return nil, ErrTokenGenerationExhausted
}

// RedeemToken binds the click behind token to tgID. Redeeming an already
// used token again is not an error.
func (s *ClickService) RedeemToken(ctx context.Context, token string, tgID int64) (*model.Click, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if tgID == 0 {
		return nil, ErrMissingTgID
	}

	click, err := s.clicks.RedeemToken(ctx, token, tgID)
	if err != nil {
		if errors.Is(err, repository.ErrClickNotFound) {
			return nil, ErrClickNotFound
		}
		return nil, err
	}
	return click, nil
}

// ResolveOffer finds an active offer by slug, cache first.
func (s *ClickService) ResolveOffer(ctx context.Context, slug string) (string, error) {
	if s.cache != nil {
		cached, err := s.cache.GetOffer(ctx, slug)
		if err == nil {
			if !cached.Active {
				return "", ErrOfferInactive
			}
			return cached.ID, nil
		}
		if errors.Is(err, cache.ErrCacheMiss) {
			if negative, _ := s.cache.IsNegativelyCached(ctx, slug); negative {
				return "", ErrOfferNotFound
			}
		} else {
			s.logger.Warn("offer cache lookup failed", "slug", slug, "error", err)
		}
	}

	offer, err := s.offers.GetOfferBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrOfferNotFound) {
			if s.cache != nil {
				_ = s.cache.SetNegativeCache(ctx, slug)
			}
			return "", ErrOfferNotFound
		}
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.SetOffer(ctx, offer); err != nil {
			s.logger.Warn("offer cache backfill failed", "slug", slug, "error", err)
		}
	}

	if !offer.Active {
		return "", ErrOfferInactive
	}
	return offer.ID, nil
}

// generateStartToken returns a URL-safe token valid as a Telegram
// deep-link start parameter.
func generateStartToken() (string, error) {
	b := make([]byte, startTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
