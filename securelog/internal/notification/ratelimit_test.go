package notification

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	l := NewMemoryRateLimiter(time.Hour, func() time.Time { return now })
	ctx := context.Background()

	var allowed int
	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "r1", 2)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)

	ok, err := l.Allow(ctx, "r2", 2)
	require.NoError(t, err)
	assert.True(t, ok, "windows are per rule")

	now = now.Add(59 * time.Minute)
	ok, _ = l.Allow(ctx, "r1", 2)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "r1", 2)
	assert.True(t, ok, "window resets one hour after first use")

	ok, _ = l.Allow(ctx, "r1", 0)
	assert.True(t, ok, "zero limit disables the cap")
}

func TestRedisRateLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisRateLimiterWithClient(client, time.Hour)
	defer l.Close()
	ctx := context.Background()

	var results []bool
	for i := 0; i < 4; i++ {
		ok, err := l.Allow(ctx, "r1", 2)
		require.NoError(t, err)
		results = append(results, ok)
	}
	assert.Equal(t, []bool{true, true, false, false}, results)
	assert.Equal(t, time.Hour, mr.TTL("securelog:notify:ratelimit:r1"))

	mr.FastForward(time.Hour)
	ok, err := l.Allow(ctx, "r1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRateLimiter_RearmsCounterWithoutExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	require.NoError(t, mr.Set("securelog:notify:ratelimit:r1", "7"))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisRateLimiterWithClient(client, time.Hour)
	defer l.Close()

	ok, err := l.Allow(context.Background(), "r1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("securelog:notify:ratelimit:r1"))

	mr.FastForward(time.Hour)
	ok, err = l.Allow(context.Background(), "r1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisRateLimiter_BadURL(t *testing.T) {
	_, err := NewRedisRateLimiter("not a url", time.Hour)
	assert.Error(t, err)
}
