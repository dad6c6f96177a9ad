// Package idempotency suppresses duplicate postback sends within a TTL
// window. It is advisory: the events.idempotency_key constraint remains
// the authoritative de-duplication.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/tgcpa/tgcpa/internal/model"
)

// DefaultCapacity is the default number of keys held in memory.
const DefaultCapacity = 5000

// DefaultTTL is the default suppression window.
const DefaultTTL = 120 * time.Second

// Guard is a best-effort expiring set of recently sent postback keys.
type Guard interface {
	IsDupe(ctx context.Context, key string) bool
	Remember(ctx context.Context, key string, ttl time.Duration)
}

// Key builds the guard key for an (offer, user, event type) triple.
func Key(offerID string, tgID int64, et model.EventType) string {
	return fmt.Sprintf("%s:%d:%s", offerID, tgID, et)
}

// Tiered consults every guard in order and remembers in all of them.
type Tiered []Guard

// IsDupe reports true if any tier has seen the key.
func (t Tiered) IsDupe(ctx context.Context, key string) bool {
	for _, g := range t {
		if g.IsDupe(ctx, key) {
			return true
		}
	}
	return false
}

// Remember stores the key in every tier.
func (t Tiered) Remember(ctx context.Context, key string, ttl time.Duration) {
	for _, g := range t {
		g.Remember(ctx, key, ttl)
	}
}
