package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/ports"
	"github.com/redis/go-redis/v9"
)

var _ ports.Store = (*RedisStore)(nil)

// DefaultRedisPrefix namespaces every key paygate writes.
const DefaultRedisPrefix = "paygate:"

// RedisStore is a Redis implementation of the Store interface. Expiry is
// native, and revocations are visible to every instance sharing the server.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", core.ErrStoreOperationFailed, op, err)
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, storeErr("get", err)
	}
	return value, nil
}

// Set stores a key with a value and expiration time
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, positive(ttl)).Err(); err != nil {
		return storeErr("set", err)
	}
	return nil
}

// SetNX stores a value only if the key does not exist yet
func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, value, positive(ttl)).Result()
	if err != nil {
		return false, storeErr("setnx", err)
	}
	return ok, nil
}

// Delete removes a key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return storeErr("del", err)
	}
	return nil
}

// Take reads and removes a key with GETDEL, so concurrent takers see it once.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, storeErr("getdel", err)
	}
	return value, nil
}

// Iterate scans keys under prefix. Keys that vanish mid-scan are skipped.
func (s *RedisStore) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+prefix+"*", 100).Result()
		if err != nil {
			return storeErr("scan", err)
		}

		for _, fullKey := range keys {
			value, err := s.client.Get(ctx, fullKey).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return storeErr("get", err)
			}
			if !fn(strings.TrimPrefix(fullKey, s.prefix), value) {
				return nil
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func positive(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
