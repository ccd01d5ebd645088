// Package idempotency implements the Idempotency Cache (spec.md §4.D): a
// fast, best-effort duplicate detector keyed by message_id, backed by the
// same Redis client as the Message Store. It is never authoritative —
// B's uniqueness constraint is (§4.B, §4.E) — so every method here treats
// its own failures as "not found" rather than propagating an error that
// would block the hot path.
package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sipeed/gatewaybridge/pkg/logger"
)

// DefaultTTL is the marker lifetime: spec.md requires it to be at least
// the longest retry window (24h).
const DefaultTTL = 24 * time.Hour

// Cache is the best-effort duplicate-detection marker store.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an existing redis client with the given marker TTL (0 uses DefaultTTL).
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(messageID string) string { return "gw:idem:" + messageID }

// MarkSeen best-effort records that messageID has been accepted. Failures
// are logged, never returned: the cache is advisory only.
func (c *Cache) MarkSeen(ctx context.Context, messageID string) {
	if err := c.rdb.Set(ctx, key(messageID), time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Err(); err != nil {
		logger.WarnCF("idempotency", "failed to mark seen", map[string]any{"message_id": messageID, "error": err.Error()})
	}
}

// Seen reports whether messageID was recently marked. A Redis error is
// treated as "not seen" — callers must still fall back to the authoritative
// store (§4.D).
func (c *Cache) Seen(ctx context.Context, messageID string) bool {
	n, err := c.rdb.Exists(ctx, key(messageID)).Result()
	if err != nil {
		logger.WarnCF("idempotency", "cache read failed, falling back to store", map[string]any{
			"message_id": messageID, "error": err.Error(),
		})
		return false
	}
	return n > 0
}
