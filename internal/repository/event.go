package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tgcpa/tgcpa/internal/model"
)

const eventColumns = `id, offer_id, tg_id, event_type, payload, idempotency_key, created_at`

// InsertEvent inserts an event guarded by the idempotency_key constraint.
// When the key already exists the stored row is returned with
// created=false; a concurrent writer losing the race is never an error.
func (r *Repository) InsertEvent(ctx context.Context, event *model.Event) (*model.Event, bool, error) {
	query := `
		INSERT INTO events (id, offer_id, tg_id, event_type, payload, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + eventColumns

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	inserted, err := scanEvent(r.pool.QueryRow(ctx, query,
		event.ID,
		event.OfferID,
		event.TgID,
		event.EventType,
		payload,
		event.IdempotencyKey,
	))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !isUniqueViolation(err, "events_idempotency_key_key") {
		return nil, false, fmt.Errorf("failed to insert event: %w", err)
	}

	existing, err := r.GetEventByKey(ctx, event.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetEvent retrieves an event by id.
func (r *Repository) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// GetEventByKey retrieves an event by its idempotency key.
func (r *Repository) GetEventByKey(ctx context.Context, key string) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE idempotency_key = $1`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event by key: %w", err)
	}
	return event, nil
}

// FindEventSince returns the earliest (offer, user, type) event created at
// or after since.
func (r *Repository) FindEventSince(ctx context.Context, offerID string, tgID int64, et model.EventType, since time.Time) (*model.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE offer_id = $1 AND tg_id = $2 AND event_type = $3 AND created_at >= $4
		ORDER BY created_at ASC
		LIMIT 1
	`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, offerID, tgID, et, since))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	return event, nil
}

// CountEventsSince counts (offer, user, type) events created at or after since.
func (r *Repository) CountEventsSince(ctx context.Context, offerID string, tgID int64, et model.EventType, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM events
		WHERE offer_id = $1 AND tg_id = $2 AND event_type = $3 AND created_at >= $4
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, offerID, tgID, et, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// HasRecentReaction reports a reaction on the same message within window.
func (r *Repository) HasRecentReaction(ctx context.Context, offerID string, tgID int64, messageID string, window time.Duration) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE offer_id = $1 AND tg_id = $2 AND event_type = 'reaction'
			  AND COALESCE(payload->>'message_id', '') = $3
			  AND created_at >= NOW() - make_interval(secs => $4)
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, offerID, tgID, messageID, window.Seconds()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recent reaction: %w", err)
	}
	return exists, nil
}

// HasSuspectFlag reports whether the click, any click the user redeemed
// for the offer, or the attribution carries meta.suspect_ip.
func (r *Repository) HasSuspectFlag(ctx context.Context, offerID string, tgID int64, clickID string) (bool, error) {
	query := `
		SELECT
			EXISTS (
				SELECT 1 FROM clicks
				WHERE meta->>'suspect_ip' = 'true'
				  AND (id = $3 OR (offer_id = $1 AND tg_id = $2))
			)
			OR EXISTS (
				SELECT 1 FROM attributions
				WHERE offer_id = $1 AND tg_id = $2 AND meta->>'suspect_ip' = 'true'
			)
	`

	var suspect bool
	if err := r.pool.QueryRow(ctx, query, offerID, tgID, clickID).Scan(&suspect); err != nil {
		return false, fmt.Errorf("failed to check suspect flag: %w", err)
	}
	return suspect, nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID,
		&e.OfferID,
		&e.TgID,
		&e.EventType,
		&e.Payload,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	return &e, err
}
