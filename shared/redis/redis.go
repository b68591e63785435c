package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"storyforge/backend/pkg/cache"
)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisClient is a cache.Store backed by Redis.
type RedisClient struct {
	client *redis.Client
	prefix string
}

var _ cache.Store = (*RedisClient)(nil)

func NewRedisClient(opts Options) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisClient{client: client, prefix: opts.KeyPrefix}
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client, prefix string) *RedisClient {
	return &RedisClient{client: client, prefix: prefix}
}

func (r *RedisClient) key(k string) string {
	return r.prefix + k
}

func (r *RedisClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisClient) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Ping is used by the health checker.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
