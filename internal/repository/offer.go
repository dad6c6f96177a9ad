package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tgcpa/tgcpa/internal/model"
)

const offerColumns = `
	id, slug, title, action_type, payout_cents,
	COALESCE(postback_url, ''), postback_method, COALESCE(postback_secret, ''),
	postback_timeout_ms, postback_max_attempts, active, created_at, updated_at
`

// CreateOffer inserts an offer. Offers are normally managed elsewhere;
// this exists for bootstrap and tests.
func (r *Repository) CreateOffer(ctx context.Context, offer *model.Offer) error {
	query := `
		INSERT INTO offers (
			id, slug, title, action_type, payout_cents, postback_url, postback_method,
			postback_secret, postback_timeout_ms, postback_max_attempts, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	maxAttempts := offer.PostbackMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	err := r.pool.QueryRow(ctx, query,
		offer.ID,
		offer.Slug,
		offer.Title,
		offer.ActionType,
		offer.PayoutCents,
		nullableString(offer.PostbackURL),
		offer.Method(),
		nullableString(offer.PostbackSecret),
		offer.PostbackTimeoutMS,
		maxAttempts,
		offer.Active,
	).Scan(&offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrOfferSlugExists
		}
		return fmt.Errorf("failed to create offer: %w", err)
	}

	offer.PostbackMaxAttempts = maxAttempts
	offer.PostbackMethod = offer.Method()
	return nil
}

// GetOffer retrieves an offer by id.
func (r *Repository) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	offer, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

// GetOfferBySlug retrieves an offer by its public slug.
func (r *Repository) GetOfferBySlug(ctx context.Context, slug string) (*model.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE slug = $1`

	offer, err := scanOffer(r.pool.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("failed to get offer by slug: %w", err)
	}
	return offer, nil
}

func scanOffer(row pgx.Row) (*model.Offer, error) {
	var o model.Offer
	err := row.Scan(
		&o.ID,
		&o.Slug,
		&o.Title,
		&o.ActionType,
		&o.PayoutCents,
		&o.PostbackURL,
		&o.PostbackMethod,
		&o.PostbackSecret,
		&o.PostbackTimeoutMS,
		&o.PostbackMaxAttempts,
		&o.Active,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return &o, err
}
