package postback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tgcpa/tgcpa/internal/database"
	"github.com/tgcpa/tgcpa/internal/model"
)

// insertRetries bounds attempts to allocate the next attempt number when
// concurrent writers race on the same event.
const insertRetries = 3

const logColumns = `
	id, offer_id, event_id, COALESCE(url, ''), method, http_status, response_time_ms,
	COALESCE(response_body, ''), attempt, status, COALESCE(error, ''),
	COALESCE(signature, ''), created_at
`

// Repository persists the append-only postback attempt log.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new postback repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DueCandidate is a failed latest attempt joined with its offer's retry
// configuration.
type DueCandidate struct {
	Log         *model.PostbackLog
	OfferSlug   string
	MaxAttempts int
}

// InsertAttempt appends a log row. With Attempt unset the next number for
// the event is allocated in the statement; an explicit Attempt that is
// already taken returns ErrAttemptConflict.
func (r *Repository) InsertAttempt(ctx context.Context, l *model.PostbackLog) error {
	query := `
		INSERT INTO postbacks (
			id, offer_id, event_id, url, method, http_status, response_time_ms,
			response_body, attempt, status, error, signature
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			COALESCE($9, COALESCE((SELECT MAX(attempt) FROM postbacks WHERE event_id = $3), 0) + 1),
			$10, $11, $12
		)
		RETURNING attempt, created_at
	`

	var explicit any
	if l.Attempt > 0 {
		explicit = l.Attempt
	}

	var err error
	for i := 0; i < insertRetries; i++ {
		err = r.db.QueryRowContext(ctx, query,
			l.ID,
			l.OfferID,
			l.EventID,
			nullString(l.URL),
			l.Method,
			l.HTTPStatus,
			l.ResponseTimeMS,
			nullString(model.TruncateBody(l.ResponseBody)),
			explicit,
			string(l.Status),
			nullString(truncateError(l.Error)),
			nullString(l.Signature),
		).Scan(&l.Attempt, &l.CreatedAt)
		if err == nil {
			return nil
		}
		if !database.IsUniqueViolation(err) {
			return fmt.Errorf("insert postback attempt: %w", err)
		}
		if explicit != nil {
			return ErrAttemptConflict
		}
	}
	return fmt.Errorf("insert postback attempt: %w", err)
}

// ListRetryCandidates returns an offer's most recent failed attempts that
// are the latest attempt for their event, plus failed rows with no event.
func (r *Repository) ListRetryCandidates(ctx context.Context, offerID string, limit int) ([]*model.PostbackLog, error) {
	query := `
		SELECT ` + logColumns + `
		FROM (
			(SELECT DISTINCT ON (event_id) *
			 FROM postbacks
			 WHERE offer_id = $1 AND event_id IS NOT NULL
			 ORDER BY event_id, attempt DESC)
			UNION ALL
			(SELECT * FROM postbacks WHERE offer_id = $1 AND event_id IS NULL)
		) latest
		WHERE status = 'failed'
		  AND (http_status IS NULL OR http_status < 200 OR http_status >= 300)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, offerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query retry candidates: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

// ListDue returns failed latest attempts across active offers that still
// have attempts left and whose backoff has elapsed at now, earliest due
// first. The backoff filter runs before the limit so rows waiting out a
// long delay never crowd out rows that are due.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]*DueCandidate, error) {
	query := `
		SELECT latest.id, latest.offer_id, latest.event_id, COALESCE(latest.url, ''), latest.method,
			   latest.http_status, latest.response_time_ms, COALESCE(latest.response_body, ''),
			   latest.attempt, latest.status, COALESCE(latest.error, ''),
			   COALESCE(latest.signature, ''), latest.created_at,
			   o.slug, o.postback_max_attempts
		FROM (
			SELECT DISTINCT ON (event_id) *,
				   created_at + interval '1 second' *
					   ($2::float8[])[LEAST(GREATEST(attempt, 1), array_length($2::float8[], 1))] AS due_at
			FROM postbacks
			WHERE event_id IS NOT NULL
			ORDER BY event_id, attempt DESC
		) latest
		JOIN offers o ON o.id = latest.offer_id
		WHERE latest.status = 'failed'
		  AND latest.attempt < o.postback_max_attempts
		  AND o.active = true
		  AND latest.due_at <= $1
		ORDER BY latest.due_at, latest.created_at
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, now, pq.Array(delaySeconds()), limit)
	if err != nil {
		return nil, fmt.Errorf("query due postbacks: %w", err)
	}
	defer rows.Close()

	var due []*DueCandidate
	for rows.Next() {
		var c DueCandidate
		l, err := scanLog(rows, &c.OfferSlug, &c.MaxAttempts)
		if err != nil {
			return nil, fmt.Errorf("scan due postback: %w", err)
		}
		c.Log = l
		due = append(due, &c)
	}
	return due, rows.Err()
}

// ListRecent returns an offer's latest attempts, newest first.
func (r *Repository) ListRecent(ctx context.Context, offerID string, limit int) ([]*model.PostbackLog, error) {
	query := `
		SELECT ` + logColumns + `
		FROM postbacks
		WHERE offer_id = $1
		ORDER BY created_at DESC, attempt DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, offerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent postbacks: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

// ListByEvent returns every attempt for an event in attempt order.
func (r *Repository) ListByEvent(ctx context.Context, eventID string) ([]*model.PostbackLog, error) {
	query := `
		SELECT ` + logColumns + `
		FROM postbacks
		WHERE event_id = $1
		ORDER BY attempt
	`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("query event postbacks: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]*model.PostbackLog, error) {
	var logs []*model.PostbackLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan postback: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanLog(rows *sql.Rows, extra ...any) (*model.PostbackLog, error) {
	var (
		l            model.PostbackLog
		eventID      sql.NullString
		httpStatus   sql.NullInt64
		responseTime sql.NullInt64
		status       string
	)

	dest := []any{
		&l.ID,
		&l.OfferID,
		&eventID,
		&l.URL,
		&l.Method,
		&httpStatus,
		&responseTime,
		&l.ResponseBody,
		&l.Attempt,
		&status,
		&l.Error,
		&l.Signature,
		&l.CreatedAt,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	l.Status = model.PostbackStatus(status)
	if eventID.Valid {
		l.EventID = &eventID.String
	}
	if httpStatus.Valid {
		code := int(httpStatus.Int64)
		l.HTTPStatus = &code
	}
	if responseTime.Valid {
		ms := responseTime.Int64
		l.ResponseTimeMS = &ms
	}
	return &l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func truncateError(msg string) string {
	return model.TruncateUTF8(msg, model.MaxErrorLen)
}
