package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tgcpa/tgcpa/internal/model"
)

// Cache key prefixes and TTLs.
const (
	offerKeyPrefix    = "offer:slug:"
	negCacheKeySuffix = ":neg"

	// DefaultOfferTTL is the TTL for cached offer routing data.
	DefaultOfferTTL = 5 * time.Minute

	// NegativeCacheTTL is the TTL for unknown-slug entries.
	NegativeCacheTTL = time.Minute
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// CachedOffer is the routing subset of an offer needed on the click path.
// Postback configuration is never cached.
type CachedOffer struct {
	ID     string
	Slug   string
	Active bool
}

// GetOffer retrieves offer routing data by slug.
// Returns ErrCacheMiss if not found.
func (c *Cache) GetOffer(ctx context.Context, slug string) (*CachedOffer, error) {
	result, err := c.client.HGetAll(ctx, offerKey(slug)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	if len(result) == 0 {
		return nil, ErrCacheMiss
	}

	active, _ := strconv.ParseBool(result["active"])
	return &CachedOffer{
		ID:     result["id"],
		Slug:   slug,
		Active: active,
	}, nil
}

// SetOffer stores offer routing data and clears any negative entry.
func (c *Cache) SetOffer(ctx context.Context, offer *model.Offer) error {
	key := offerKey(offer.Slug)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"id":     offer.ID,
		"active": strconv.FormatBool(offer.Active),
	})
	pipe.Expire(ctx, key, DefaultOfferTTL)
	pipe.Del(ctx, key+negCacheKeySuffix)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache offer: %w", err)
	}
	return nil
}

// IsNegativelyCached checks if a slug is known to be missing.
func (c *Cache) IsNegativelyCached(ctx context.Context, slug string) (bool, error) {
	exists, err := c.client.Exists(ctx, offerKey(slug)+negCacheKeySuffix).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check negative cache: %w", err)
	}
	return exists > 0, nil
}

// SetNegativeCache marks a slug as not found.
func (c *Cache) SetNegativeCache(ctx context.Context, slug string) error {
	if err := c.client.SetEx(ctx, offerKey(slug)+negCacheKeySuffix, "", NegativeCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set negative cache: %w", err)
	}
	return nil
}

func offerKey(slug string) string {
	return offerKeyPrefix + slug
}
