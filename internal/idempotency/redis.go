package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// SentKeyStore is the shared store behind RedisGuard.
type SentKeyStore interface {
	MarkPostbackSent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PostbackSentRecently(ctx context.Context, key string) (bool, error)
}

// RedisGuard shares sent keys across processes. Store errors are logged
// and treated as "not a duplicate" so delivery is never blocked by Redis.
type RedisGuard struct {
	store  SentKeyStore
	logger *slog.Logger
}

// NewRedisGuard creates a guard backed by store.
func NewRedisGuard(store SentKeyStore, logger *slog.Logger) *RedisGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGuard{
		store:  store,
		logger: logger.With("component", "idempotency.redis"),
	}
}

// IsDupe reports whether key was marked within its TTL.
func (g *RedisGuard) IsDupe(ctx context.Context, key string) bool {
	seen, err := g.store.PostbackSentRecently(ctx, key)
	if err != nil {
		g.logger.Warn("dedupe lookup failed", "key", key, "error", err)
		return false
	}
	return seen
}

// Remember marks key as sent for ttl.
func (g *RedisGuard) Remember(ctx context.Context, key string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := g.store.MarkPostbackSent(ctx, key, ttl); err != nil {
		g.logger.Warn("dedupe remember failed", "key", key, "error", err)
	}
}
