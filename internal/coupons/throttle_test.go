package coupons

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestThrottleAllow(t *testing.T) {
	mr, client := setupTestRedis(t)
	throttle := NewThrottle(client, 2, time.Hour, nil)
	ctx := context.Background()

	assert.True(t, throttle.Allow(ctx, "clinic-a", "user-1").Allowed)
	assert.True(t, throttle.Allow(ctx, "clinic-a", "user-1").Allowed)
	res := throttle.Allow(ctx, "clinic-a", "user-1")
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.CurrentCount)
	assert.True(t, throttle.Allow(ctx, "clinic-a", "user-2").Allowed, "counters are per user")

	mr.FastForward(time.Hour + time.Second)
	assert.True(t, throttle.Allow(ctx, "clinic-a", "user-1").Allowed, "window expires")

	require.NoError(t, throttle.reset(ctx, "clinic-a", "user-1"))
	assert.False(t, mr.Exists("throttle:coupon:clinic-a:user-1"))
}

func TestThrottleSetsWindowOnCounter(t *testing.T) {
	mr, client := setupTestRedis(t)
	throttle := NewThrottle(client, 5, 30*time.Minute, nil)
	ctx := context.Background()

	res := throttle.Allow(ctx, "clinic-a", "user-1")
	require.True(t, res.Allowed)
	assert.Equal(t, 30*time.Minute, mr.TTL("throttle:coupon:clinic-a:user-1"))
	assert.False(t, res.WindowExpiry.IsZero())

	// a counter left without a TTL is repaired on the next hit
	require.NoError(t, mr.Set("throttle:coupon:clinic-a:user-2", "4"))
	res = throttle.Allow(ctx, "clinic-a", "user-2")
	assert.True(t, res.Allowed)
	assert.Equal(t, 5, res.CurrentCount)
	assert.Equal(t, 30*time.Minute, mr.TTL("throttle:coupon:clinic-a:user-2"))

	mr.FastForward(31 * time.Minute)
	assert.False(t, mr.Exists("throttle:coupon:clinic-a:user-2"))
}

func TestThrottleFailsOpen(t *testing.T) {
	mr, client := setupTestRedis(t)
	throttle := NewThrottle(client, 1, time.Hour, nil)
	mr.Close()

	assert.True(t, throttle.Allow(context.Background(), "clinic-a", "user-1").Allowed)
}

func TestThrottleDisabled(t *testing.T) {
	var nilThrottle *Throttle
	assert.True(t, nilThrottle.Allow(context.Background(), "t", "u").Allowed)
	assert.True(t, NewThrottle(nil, 5, time.Hour, nil).Allow(context.Background(), "t", "u").Allowed)
}
