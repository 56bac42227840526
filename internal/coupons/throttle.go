package coupons

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/practice-booking/pkg/logging"
)

// Throttle caps how often one user may try coupon codes. Counters live in
// Redis; when Redis is unavailable every request is allowed.
type Throttle struct {
	redis  *redis.Client
	logger *logging.Logger
	limit  int
	window time.Duration
}

// ThrottleResult reports the state of a user's window after a check.
type ThrottleResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
}

// NewThrottle builds a throttle allowing limit checks per window. A nil
// client or non-positive limit disables throttling.
func NewThrottle(client *redis.Client, limit int, window time.Duration, logger *logging.Logger) *Throttle {
	if logger == nil {
		logger = logging.Default()
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Throttle{redis: client, logger: logger, limit: limit, window: window}
}

// Allow counts one validation attempt for the user.
func (t *Throttle) Allow(ctx context.Context, tenantID, userRef string) ThrottleResult {
	if t == nil || t.redis == nil || t.limit <= 0 {
		return ThrottleResult{Allowed: true}
	}
	ctx, span := tracer.Start(ctx, "coupons.throttle")
	defer span.End()
	span.SetAttributes(attribute.String("practice.tenant_id", tenantID))

	key := throttleKey(tenantID, userRef)
	count, expiry, err := t.incrementAndGet(ctx, key)
	if err != nil {
		t.logger.Error("coupon throttle unavailable", "error", err, "key", key)
		return ThrottleResult{Allowed: true, MaxAllowed: t.limit}
	}

	result := ThrottleResult{
		Allowed:      count <= t.limit,
		CurrentCount: count,
		MaxAllowed:   t.limit,
		WindowExpiry: expiry,
	}
	if !result.Allowed {
		t.logger.Warn("coupon validation throttled",
			"tenant_id", tenantID,
			"user_ref", userRef,
			"count", count,
			"max", t.limit,
		)
		span.SetAttributes(attribute.Bool("throttle.exceeded", true))
	}
	return result
}

// reset clears a user's counter.
func (t *Throttle) reset(ctx context.Context, tenantID, userRef string) error {
	if t == nil || t.redis == nil {
		return nil
	}
	return t.redis.Del(ctx, throttleKey(tenantID, userRef)).Err()
}

func throttleKey(tenantID, userRef string) string {
	return fmt.Sprintf("throttle:coupon:%s:%s", tenantID, userRef)
}

// incrementAndGet counts one hit and returns when the window closes. A
// counter found without a TTL gets one, so a failed EXPIRE cannot pin a user
// at the limit forever.
func (t *Throttle) incrementAndGet(ctx context.Context, key string) (int, time.Time, error) {
	pipe := t.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		if err := t.redis.Expire(ctx, key, t.window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("coupons: set throttle window: %w", err)
		}
		ttl = t.window
	}
	return int(incr.Val()), time.Now().Add(ttl), nil
}
