package professionals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/practice-booking/pkg/logging"
)

// CachedDirectory is a read-through Redis cache in front of another Directory.
// Only professional profiles are cached; appointment rows never are.
type CachedDirectory struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedDirectory wraps next. A nil redis client disables caching.
func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedDirectory {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{next: next, redis: client, ttl: ttl, logger: logger}
}

// Get serves from Redis when possible and falls back to the wrapped directory.
// Redis failures degrade to uncached reads.
func (c *CachedDirectory) Get(ctx context.Context, tenantID, id string) (*Professional, error) {
	if c.redis == nil {
		return c.next.Get(ctx, tenantID, id)
	}
	cacheKey := fmt.Sprintf("professional:%s:%s", tenantID, id)

	raw, err := c.redis.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var p Professional
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return &p, nil
		}
		c.logger.Warn("professional cache entry corrupt", "key", cacheKey)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("professional cache read failed", "error", err, "key", cacheKey)
	}

	p, err := c.next.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
			c.logger.Warn("professional cache write failed", "error", err, "key", cacheKey)
		}
	}
	return p, nil
}

// Invalidate drops a cached profile, e.g. after a price change.
func (c *CachedDirectory) Invalidate(ctx context.Context, tenantID, id string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, fmt.Sprintf("professional:%s:%s", tenantID, id)).Err()
}
