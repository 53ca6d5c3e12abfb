// Package storetest is the behaviour every ports.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Common runs the conformance suite. newStore must return an empty store.
func Common(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Run("set and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "never-existed"))

		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "short", []byte("v"), 50*time.Millisecond))
		require.NoError(t, s.Set(ctx, "long", []byte("v"), time.Minute))
		time.Sleep(150 * time.Millisecond)

		_, err := s.Get(ctx, "short")
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = s.Take(ctx, "short")
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = s.Get(ctx, "long")
		assert.NoError(t, err)
	})

	t.Run("setnx", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ok, err := s.SetNX(ctx, "k", []byte("first"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetNX(ctx, "k", []byte("second"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})

	t.Run("take removes the key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := s.Take(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		_, err = s.Take(ctx, "k")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("take has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "contended", []byte("v"), time.Minute))

		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := s.Take(ctx, "contended"); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, wins)
	})

	t.Run("iterate by prefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, s.Set(ctx, fmt.Sprintf("receipt:%d", i), []byte("r"), time.Minute))
		}
		require.NoError(t, s.Set(ctx, "token:a", []byte("t"), time.Minute))

		seen := map[string]bool{}
		require.NoError(t, s.Iterate(ctx, "receipt:", func(key string, value []byte) bool {
			seen[key] = true
			return true
		}))
		assert.Equal(t, map[string]bool{"receipt:0": true, "receipt:1": true, "receipt:2": true}, seen)

		count := 0
		require.NoError(t, s.Iterate(ctx, "receipt:", func(string, []byte) bool {
			count++
			return false
		}))
		assert.Equal(t, 1, count)
	})
}
