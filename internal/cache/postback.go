package cache

import (
	"context"
	"fmt"
	"time"
)

const postbackSentPrefix = "postback:sent:"

// MarkPostbackSent records a sent postback key for ttl. It reports false
// when the key was already present.
func (c *Cache) MarkPostbackSent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, postbackSentPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark postback sent: %w", err)
	}
	return ok, nil
}

// PostbackSentRecently reports whether key was marked and has not expired.
func (c *Cache) PostbackSentRecently(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, postbackSentPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check postback key: %w", err)
	}
	return n > 0, nil
}
