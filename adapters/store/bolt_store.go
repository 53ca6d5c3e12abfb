package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/ports"
	"go.etcd.io/bbolt"
)

var (
	_ ports.Store     = (*BoltStore)(nil)
	_ ports.Compactor = (*BoltStore)(nil)
)

var boltBucket = []byte("paygate")

// BoltStore persists entries in a single bbolt file. Every mutation runs in a
// write transaction, which bbolt serializes, so Take is atomic.
//
// Values are stored as an 8-byte big-endian expiry (unix nanoseconds, zero for
// none) followed by the payload.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func encodeBolt(value []byte, ttl time.Duration) []byte {
	buf := make([]byte, 8+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf, uint64(time.Now().Add(ttl).UnixNano()))
	}
	copy(buf[8:], value)
	return buf
}

// decodeBolt returns a copy of the payload and whether it is still live at now.
func decodeBolt(raw []byte, now time.Time) ([]byte, bool) {
	if len(raw) < 8 {
		return nil, false
	}
	expiry := int64(binary.BigEndian.Uint64(raw[:8]))
	live := expiry == 0 || now.UnixNano() < expiry
	return append([]byte(nil), raw[8:]...), live
}

var errBoltExpired = errors.New("expired")

// Get returns the live value of key. An expired entry is deleted on read.
func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if raw == nil {
			return core.ErrNotFound
		}
		v, live := decodeBolt(raw, time.Now())
		if !live {
			return errBoltExpired
		}
		value = v
		return nil
	})

	switch {
	case errors.Is(err, errBoltExpired):
		// Lazily evict; a concurrent Set wins because it refreshed the expiry.
		_ = s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(boltBucket)
			if raw := b.Get([]byte(key)); raw != nil {
				if _, live := decodeBolt(raw, time.Now()); !live {
					return b.Delete([]byte(key))
				}
			}
			return nil
		})
		return nil, core.ErrNotFound
	case errors.Is(err, core.ErrNotFound):
		return nil, err
	case err != nil:
		return nil, storeErr("get", err)
	}
	return value, nil
}

// Set stores value under key. A ttl of zero never expires.
func (s *BoltStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), encodeBolt(value, ttl))
	})
	if err != nil {
		return storeErr("set", err)
	}
	return nil
}

// SetNX stores value only when key is absent or expired.
func (s *BoltStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	stored := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if raw := b.Get([]byte(key)); raw != nil {
			if _, live := decodeBolt(raw, time.Now()); live {
				return nil
			}
		}
		stored = true
		return b.Put([]byte(key), encodeBolt(value, ttl))
	})
	if err != nil {
		return false, storeErr("setnx", err)
	}
	return stored, nil
}

// Delete removes key. Missing keys are not an error.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	if err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// Take reads and deletes key inside one write transaction.
func (s *BoltStore) Take(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return core.ErrNotFound
		}
		v, live := decodeBolt(raw, time.Now())
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
		if !live {
			return core.ErrNotFound
		}
		value = v
		return nil
	})
	if errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storeErr("take", err)
	}
	return value, nil
}

// Iterate collects matching entries in one read transaction, then calls fn
// outside it so fn may write to the store.
func (s *BoltStore) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	type kv struct {
		key   string
		value []byte
	}
	var entries []kv

	now := time.Now()
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		p := []byte(prefix)
		for k, raw := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, raw = c.Next() {
			if v, live := decodeBolt(raw, now); live {
				entries = append(entries, kv{key: string(k), value: v})
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("iterate", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(e.key, e.value) {
			return nil
		}
	}
	return nil
}

// Cleanup deletes every expired entry.
func (s *BoltStore) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		now := time.Now()
		var stale [][]byte
		if err := b.ForEach(func(k, raw []byte) error {
			if _, live := decodeBolt(raw, now); !live {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, storeErr("cleanup", err)
	}
	return removed, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
