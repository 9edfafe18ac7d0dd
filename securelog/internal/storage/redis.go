package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// RedisBackend stores objects as plain string keys under a prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(redisURL, prefix string) (*RedisBackend, error) {
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
	return NewRedisBackendWithClient(client, prefix), nil
}

func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "securelog:replica:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(path string) string {
	return b.prefix + path
}

func (b *RedisBackend) Write(ctx context.Context, path string, data []byte) error {
	return b.client.Set(ctx, b.key(path), data, 0).Err()
}

func (b *RedisBackend) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", path, models.ErrNotFound)
	}
	return data, err
}

func (b *RedisBackend) Delete(ctx context.Context, path string) error {
	return b.client.Del(ctx, b.key(path)).Err()
}

func (b *RedisBackend) Exists(ctx context.Context, path string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(path)).Result()
	return n > 0, err
}

func (b *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := b.client.Scan(ctx, 0, b.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), b.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
