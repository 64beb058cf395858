package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "notion:delivered:"

	// Delivered keys stay cached long enough to cover duplicate enqueues and
	// crash-and-resume reruns; the remote existence query remains the source
	// of truth once the entry expires.
	cacheTTL = 7 * 24 * time.Hour
)

// DedupCache remembers natural keys of items confirmed present in the
// external store, so reruns can skip the remote existence query. It is a
// best-effort optimization: any Redis failure degrades to the remote query.
type DedupCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewDedupCache creates a dedup cache over an established Redis client.
func NewDedupCache(client *redis.Client, logger *slog.Logger) *DedupCache {
	return &DedupCache{
		client: client,
		logger: logger,
	}
}

// key hashes the item natural key so question text never lands in Redis.
func (c *DedupCache) key(attemptID string, item Item) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", attemptID, item.Category, item.Level, item.QuestionText)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Seen reports whether the item was previously confirmed delivered. Errors
// are logged and reported as a miss.
func (c *DedupCache) Seen(ctx context.Context, attemptID string, item Item) bool {
	if c == nil || c.client == nil {
		return false
	}

	n, err := c.client.Exists(ctx, c.key(attemptID, item)).Result()
	if err != nil {
		c.logger.Warn("Dedup cache lookup failed",
			slog.String("attempt_id", attemptID),
			slog.String("error", err.Error()),
		)
		return false
	}

	return n > 0
}

// MarkDelivered records a confirmed delivery. Only called after the remote
// store acknowledged the item (created or found existing).
func (c *DedupCache) MarkDelivered(ctx context.Context, attemptID string, item Item) {
	if c == nil || c.client == nil {
		return
	}

	if err := c.client.Set(ctx, c.key(attemptID, item), "1", cacheTTL).Err(); err != nil {
		c.logger.Warn("Dedup cache write failed",
			slog.String("attempt_id", attemptID),
			slog.String("error", err.Error()),
		)
	}
}
