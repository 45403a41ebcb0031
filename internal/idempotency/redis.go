package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for idempotency records.
const KeyPrefix = "respondr:idempotency:"

// pendingMarker is stored while the first request is running.
const pendingMarker = "pending"

// RedisStore is a Store shared by every instance through Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: KeyPrefix}
}

func (s *RedisStore) buildKey(key string) string {
	return s.prefix + key
}

// Begin implements Store.
func (s *RedisStore) Begin(ctx context.Context, key string, lockTTL time.Duration) (*Response, error) {
	rkey := s.buildKey(key)

	// The key can expire between SetNX and Get, so try twice.
	for i := 0; i < 2; i++ {
		ok, err := s.client.SetNX(ctx, rkey, pendingMarker, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return nil, nil
		}

		data, err := s.client.Get(ctx, rkey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get idempotency key: %w", err)
		}
		if string(data) == pendingMarker {
			return nil, ErrInProgress
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal stored response: %w", err)
		}
		return &resp, nil
	}

	return nil, ErrInProgress
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := s.client.Set(ctx, s.buildKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
