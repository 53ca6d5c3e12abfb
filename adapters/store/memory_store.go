package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/ports"
)

var (
	_ ports.Store     = (*MemoryStore)(nil)
	_ ports.Compactor = (*MemoryStore)(nil)
)

type memoryEntry struct {
	value  []byte
	expiry time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && !now.Before(e.expiry)
}

// MemoryStore is an in-memory implementation of the Store interface. Expired
// entries are dropped when read or by Cleanup. It does not scale past a
// single instance.
type MemoryStore struct {
	data map[string]memoryEntry
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memoryEntry),
	}
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return nil, core.ErrNotFound
	}

	if entry.expired(time.Now()) {
		s.evict(key, entry.expiry)
		return nil, core.ErrNotFound
	}

	return entry.value, nil
}

// evict removes key only if nobody replaced it since it was observed expired.
func (s *MemoryStore) evict(key string, observed time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.data[key]; ok && entry.expiry.Equal(observed) {
		delete(s.data, key)
	}
}

// Set stores a key with a value. A non-positive ttl never expires.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = memoryEntry{value: value, expiry: expiryFor(ttl)}
	return nil
}

// SetNX stores a value only when no live entry exists for key
func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.data[key]; ok && !entry.expired(time.Now()) {
		return false, nil
	}

	s.data[key] = memoryEntry{value: value, expiry: expiryFor(ttl)}
	return true, nil
}

// Delete removes a key; deleting a missing key is not an error
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Take atomically reads and removes a key
func (s *MemoryStore) Take(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	delete(s.data, key)

	if entry.expired(time.Now()) {
		return nil, core.ErrNotFound
	}

	return entry.value, nil
}

// Iterate walks a snapshot of live entries under prefix in key order.
func (s *MemoryStore) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	now := time.Now()

	s.mu.RLock()
	snapshot := make(map[string][]byte)
	for key, entry := range s.data {
		if strings.HasPrefix(key, prefix) && !entry.expired(now) {
			snapshot[key] = entry.value
		}
	}
	s.mu.RUnlock()

	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(key, snapshot[key]) {
			return nil
		}
	}
	return nil
}

// Cleanup removes all expired entries and reports how many were dropped.
func (s *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range s.data {
		if entry.expired(now) {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
