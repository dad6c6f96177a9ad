package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tgcpa/tgcpa/internal/model"
)

const clickColumns = `
	id, offer_id, COALESCE(uid, ''), COALESCE(click_id, ''), start_token,
	COALESCE(source, ''), COALESCE(sub1, ''), COALESCE(sub2, ''),
	COALESCE(ip, ''), COALESCE(user_agent, ''), COALESCE(referer, ''),
	meta, created_at, used_at, tg_id
`

// CreateClick inserts a click. A start token collision returns
// ErrStartTokenTaken so the caller can regenerate.
func (r *Repository) CreateClick(ctx context.Context, click *model.Click) error {
	query := `
		INSERT INTO clicks (
			id, offer_id, uid, click_id, start_token, source, sub1, sub2,
			ip, user_agent, referer, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	meta := click.Meta
	if meta == nil {
		meta = model.Meta{}
	}

	err := r.pool.QueryRow(ctx, query,
		click.ID,
		click.OfferID,
		nullableString(click.UID),
		nullableString(click.ExternalClickID),
		click.StartToken,
		nullableString(click.Source),
		nullableString(click.Sub1),
		nullableString(click.Sub2),
		nullableString(click.IP),
		nullableString(click.UserAgent),
		nullableString(click.Referer),
		meta,
	).Scan(&click.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "clicks_start_token_key") {
			return ErrStartTokenTaken
		}
		return fmt.Errorf("failed to create click: %w", err)
	}

	click.Meta = meta
	return nil
}

// RedeemToken binds a click to a Telegram user. used_at is first-write-wins;
// tg_id follows the latest claimant. Repeated calls are idempotent.
func (r *Repository) RedeemToken(ctx context.Context, token string, tgID int64) (*model.Click, error) {
	query := `
		UPDATE clicks
		SET tg_id = $2, used_at = COALESCE(used_at, NOW())
		WHERE start_token = $1
		RETURNING ` + clickColumns

	click, err := scanClick(r.pool.QueryRow(ctx, query, token, tgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClickNotFound
		}
		return nil, fmt.Errorf("failed to redeem token: %w", err)
	}
	return click, nil
}

// GetClick retrieves a click by id.
func (r *Repository) GetClick(ctx context.Context, id string) (*model.Click, error) {
	query := `SELECT ` + clickColumns + ` FROM clicks WHERE id = $1`

	click, err := scanClick(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClickNotFound
		}
		return nil, fmt.Errorf("failed to get click: %w", err)
	}
	return click, nil
}

// GetClickByToken retrieves a click by its start token without redeeming it.
func (r *Repository) GetClickByToken(ctx context.Context, token string) (*model.Click, error) {
	query := `SELECT ` + clickColumns + ` FROM clicks WHERE start_token = $1`

	click, err := scanClick(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClickNotFound
		}
		return nil, fmt.Errorf("failed to get click by token: %w", err)
	}
	return click, nil
}

func scanClick(row pgx.Row) (*model.Click, error) {
	var c model.Click
	err := row.Scan(
		&c.ID,
		&c.OfferID,
		&c.UID,
		&c.ExternalClickID,
		&c.StartToken,
		&c.Source,
		&c.Sub1,
		&c.Sub2,
		&c.IP,
		&c.UserAgent,
		&c.Referer,
		&c.Meta,
		&c.CreatedAt,
		&c.UsedAt,
		&c.TgID,
	)
	return &c, err
}
