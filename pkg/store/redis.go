package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisHistoryStore counts repeated author content with INCR + EXPIRE.
// Counters live under vigil:dup: and expire with the window, so the count
// is approximate (fixed window, not sliding) but cheap and shared across
// instances.
type RedisHistoryStore struct {
	rdb *redis.Client
}

// NewRedisHistoryStore creates a history store on an existing client.
func NewRedisHistoryStore(rdb *redis.Client) *RedisHistoryStore {
	return &RedisHistoryStore{rdb: rdb}
}

// RecordContent implements moderation.HistoryStore.
func (s *RedisHistoryStore) RecordContent(ctx context.Context, authorID, content string, window time.Duration) (int, error) {
	key := "vigil:dup:" + contentKey(authorID, content)
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			return int(n), fmt.Errorf("redis expire: %w", err)
		}
	}
	return int(n), nil
}

// RedisCounterStore provides the rule-threshold counters under vigil:count:.
type RedisCounterStore struct {
	rdb *redis.Client
}

// NewRedisCounterStore creates a counter store on an existing client.
func NewRedisCounterStore(rdb *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

// Increment implements threat.CounterStore.
func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := "vigil:count:" + key
	n, err := s.rdb.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, fullKey, window).Err(); err != nil {
			return n, fmt.Errorf("redis expire: %w", err)
		}
	}
	return n, nil
}
