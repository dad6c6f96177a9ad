package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tgcpa/tgcpa/internal/model"
)

const attributionColumns = `tg_id, offer_id, uid, click_id, state, first_seen, last_seen, meta`

// UpsertAttribution inserts or merges the (tg_id, offer_id) row. Non-empty
// inputs overwrite, empty inputs keep the stored value, last_seen never
// moves backwards and meta flags are only ever added.
func (r *Repository) UpsertAttribution(ctx context.Context, in model.AttributionInput) (*model.Attribution, error) {
	query := `
		INSERT INTO attributions (tg_id, offer_id, uid, click_id, state, first_seen, last_seen, meta)
		VALUES ($1, $2, $3, $4, 'started', NOW(), NOW(), $5)
		ON CONFLICT (tg_id, offer_id) DO UPDATE SET
			uid       = COALESCE(EXCLUDED.uid, attributions.uid),
			click_id  = COALESCE(EXCLUDED.click_id, attributions.click_id),
			last_seen = GREATEST(attributions.last_seen, EXCLUDED.last_seen),
			meta      = attributions.meta || EXCLUDED.meta
		RETURNING ` + attributionColumns

	meta := model.Meta{}
	if in.SuspectIP {
		meta[model.MetaSuspectIP] = true
	}

	attr, err := scanAttribution(r.pool.QueryRow(ctx, query,
		in.TgID,
		in.OfferID,
		nullableString(in.UID),
		nullableString(in.ClickID),
		meta,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert attribution: %w", err)
	}
	return attr, nil
}

// MarkConverted moves the attribution to converted. It never reverts and
// is a no-op when no attribution exists.
func (r *Repository) MarkConverted(ctx context.Context, tgID int64, offerID string) error {
	query := `
		UPDATE attributions
		SET state = 'converted', last_seen = GREATEST(last_seen, NOW())
		WHERE tg_id = $1 AND offer_id = $2
	`

	if _, err := r.pool.Exec(ctx, query, tgID, offerID); err != nil {
		return fmt.Errorf("failed to mark attribution converted: %w", err)
	}
	return nil
}

// GetAttribution retrieves the attribution for a (user, offer) pair.
func (r *Repository) GetAttribution(ctx context.Context, tgID int64, offerID string) (*model.Attribution, error) {
	query := `SELECT ` + attributionColumns + ` FROM attributions WHERE tg_id = $1 AND offer_id = $2`

	attr, err := scanAttribution(r.pool.QueryRow(ctx, query, tgID, offerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttributionNotFound
		}
		return nil, fmt.Errorf("failed to get attribution: %w", err)
	}
	return attr, nil
}

// GetLatestAttribution returns the most recently touched attribution for
// a user across all offers.
func (r *Repository) GetLatestAttribution(ctx context.Context, tgID int64) (*model.Attribution, error) {
	query := `
		SELECT ` + attributionColumns + `
		FROM attributions
		WHERE tg_id = $1
		ORDER BY last_seen DESC
		LIMIT 1
	`

	attr, err := scanAttribution(r.pool.QueryRow(ctx, query, tgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttributionNotFound
		}
		return nil, fmt.Errorf("failed to get latest attribution: %w", err)
	}
	return attr, nil
}

func scanAttribution(row pgx.Row) (*model.Attribution, error) {
	var a model.Attribution
	err := row.Scan(
		&a.TgID,
		&a.OfferID,
		&a.UID,
		&a.ClickID,
		&a.State,
		&a.FirstSeen,
		&a.LastSeen,
		&a.Meta,
	)
	return &a, err
}
