package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps go-redis v9 as a Cache backend and as the Pub/Sub transport
// the change bus uses for cross-pod fan-out.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to Redis and verifies connectivity. The caller decides
// whether to fall back to the in-memory cache on error.
func NewRedis(addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("redis connected", "addr", addr, "db", db)
	return &Redis{rdb: rdb}, nil
}

// NewRedisFromClient wraps an existing client (used by tests with miniredis).
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Close shuts down the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("redis GET failed", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("redis SET failed", "key", key, "error", err)
	}
}

func (r *Redis) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("redis DEL failed", "error", err)
	}
}

// DeletePrefix removes every key under prefix using a cursor SCAN, so the
// purge never blocks Redis the way KEYS would.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			slog.Warn("redis SCAN failed", "prefix", prefix, "error", err)
			return
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("redis DEL failed during prefix purge", "prefix", prefix, "error", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Publish sends a message on a Redis Pub/Sub channel.
func (r *Redis) Publish(ctx context.Context, channel string, message []byte) error {
	return r.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe registers a handler for messages on a channel and returns an
// unsubscribe function.
func (r *Redis) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := r.rdb.Subscribe(ctx, channel)

	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
