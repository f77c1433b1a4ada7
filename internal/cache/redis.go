package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is an optional shared Backend, adapted from the teacher's
// cache_redis.go RedisCache but trimmed to the single StoredEvent shape
// EventCache needs (no per-entity cache types).
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to a redis://[:password@]host:port/db URL.
func NewRedisBackend(redisURL, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("snstr/cache: invalid redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("snstr/cache: redis connection failed: %w", err)
	}

	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (r *RedisBackend) key(k string) string { return r.prefix + k }

func (r *RedisBackend) Get(ctx context.Context, key string) (*StoredEvent, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snstr/cache: redis get failed: %w", err)
	}
	var event StoredEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, false, fmt.Errorf("snstr/cache: failed to decode cached event: %w", err)
	}
	return &event, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, event *StoredEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("snstr/cache: failed to encode cached event: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("snstr/cache: redis set failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
