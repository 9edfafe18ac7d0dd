package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a per-rule cap over a fixed window that starts at
// the first counted dispatch.
type RateLimiter interface {
	Allow(ctx context.Context, ruleID string, limit int) (bool, error)
	Close() error
}

type window struct {
	start time.Time
	count int
}

// MemoryRateLimiter keeps windows in process memory.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	now     func() time.Time
}

func NewMemoryRateLimiter(length time.Duration, now func() time.Time) *MemoryRateLimiter {
	if length <= 0 {
		length = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryRateLimiter{windows: make(map[string]*window), length: length, now: now}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, ruleID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[ruleID]
	if !ok || now.Sub(w.start) >= l.length {
		w = &window{start: now}
		l.windows[ruleID] = w
	}
	if w.count >= limit {
		return false, nil
	}
	w.count++
	return true, nil
}

func (l *MemoryRateLimiter) Close() error { return nil }

// fixedWindowScript increments the counter and arms its expiry in one
// atomic step. A counter found without a TTL is re-armed.
var fixedWindowScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 or redis.call('PTTL', KEYS[1]) == -1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RedisRateLimiter shares windows across processes.
type RedisRateLimiter struct {
	client *redis.Client
	length time.Duration
	prefix string
}

// NewRedisRateLimiter connects to redisURL and verifies the connection.
func NewRedisRateLimiter(redisURL string, length time.Duration) (*RedisRateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisRateLimiterWithClient(client, length), nil
}

func NewRedisRateLimiterWithClient(client *redis.Client, length time.Duration) *RedisRateLimiter {
	if length <= 0 {
		length = time.Hour
	}
	return &RedisRateLimiter{client: client, length: length, prefix: "securelog:notify:ratelimit:"}
}

// Allow increments the rule counter. The first increment in a window sets
// its expiry, so the window is fixed from first use.
func (l *RedisRateLimiter) Allow(ctx context.Context, ruleID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := l.prefix + ruleID

	n, err := fixedWindowScript.Run(ctx, l.client, []string{key}, l.length.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return n <= int64(limit), nil
}

func (l *RedisRateLimiter) Close() error {
	return l.client.Close()
}
