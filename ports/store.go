package ports

import (
	"context"
	"time"
)

// Store is the key-value backing for challenges, receipts and access tokens.
//
// Get and Take return core.ErrNotFound for absent or expired keys. Delete is
// idempotent. Take must be atomic: when several callers take the same key
// concurrently, exactly one receives the value.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Take(ctx context.Context, key string) ([]byte, error)
	// Iterate calls fn for every live key with the given prefix until fn returns false.
	Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error
}

// Compactor is implemented by stores without native expiry; the sweeper calls
// Cleanup to drop entries whose TTL has passed.
type Compactor interface {
	Cleanup(ctx context.Context) (int, error)
}
