package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tgcpa/tgcpa/internal/database"
	"github.com/tgcpa/tgcpa/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

var schemaMigrations = []string{
	"000001_core_schema",
	"000002_postbacks",
}

// ResetSchema drops and recreates every table from the embedded migrations.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i := len(schemaMigrations) - 1; i >= 0; i-- {
		downSQL, err := database.MigrationSQL(schemaMigrations[i] + ".down.sql")
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, downSQL); err != nil {
			return fmt.Errorf("apply down migration %s: %w", schemaMigrations[i], err)
		}
	}

	for _, name := range schemaMigrations {
		upSQL, err := database.MigrationSQL(name + ".up.sql")
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, upSQL); err != nil {
			return fmt.Errorf("apply up migration %s: %w", name, err)
		}
	}

	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// NewTestOffer creates an active offer with sensible defaults and no
// postback URL (dry-run).
func NewTestOffer(t testing.TB, slug string) *model.Offer {
	t.Helper()
	return &model.Offer{
		ID:                  UniqueID("offer"),
		Slug:                slug,
		Title:               "Test offer " + slug,
		ActionType:          model.EventJoinGroup,
		PayoutCents:         150,
		PostbackMethod:      "POST",
		PostbackMaxAttempts: 5,
		Active:              true,
	}
}

// UniqueSlug generates a unique slug for tests.
func UniqueSlug(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// UniqueTgID returns a Telegram user id unlikely to collide across tests.
func UniqueTgID() int64 {
	return time.Now().UnixNano() % 1_000_000_000_000
}
