package cachestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*MemCacheStore, *time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	s := NewMemCacheStore(0)
	s.now = func() time.Time { return now }
	t.Cleanup(s.Close)
	return s, &now
}

func TestMemCacheStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, ok, err := s.Get(ctx, "star:1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "star:1", []byte("one"), 30*time.Second))

	val, ok, err := s.Get(ctx, "star:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), val)
}

func TestMemCacheStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t)

	require.NoError(t, s.Set(ctx, "star:1", []byte("one"), 30*time.Second))

	*now = now.Add(29 * time.Second)
	_, ok, err := s.Get(ctx, "star:1")
	require.NoError(t, err)
	assert.True(t, ok)

	*now = now.Add(2 * time.Second)
	_, ok, err = s.Get(ctx, "star:1")
	require.NoError(t, err)
	assert.False(t, ok)

	// expired entry was evicted on read, not just hidden
	assert.Equal(t, 0, s.Len())
}

func TestMemCacheStoreOverwriteResetsExpiry(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t)

	require.NoError(t, s.Set(ctx, "star:1", []byte("one"), 30*time.Second))
	*now = now.Add(25 * time.Second)
	require.NoError(t, s.Set(ctx, "star:1", []byte("two"), 30*time.Second))

	*now = now.Add(10 * time.Second)
	val, ok, err := s.Get(ctx, "star:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("two"), val)
}

func TestMemCacheStoreInvalidate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "star:1", []byte("one"), time.Minute))
	require.NoError(t, s.Invalidate(ctx, "star:1"))

	_, ok, err := s.Get(ctx, "star:1")
	require.NoError(t, err)
	assert.False(t, ok)

	// invalidating an absent key is not an error
	require.NoError(t, s.Invalidate(ctx, "star:1"))
}

func TestMemCacheStoreSweep(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t)

	require.NoError(t, s.Set(ctx, "star:1", []byte("one"), 10*time.Second))
	require.NoError(t, s.Set(ctx, "star:2", []byte("two"), time.Hour))

	*now = now.Add(time.Minute)
	s.sweep()

	assert.Equal(t, 1, s.Len())
	_, ok, err := s.Get(ctx, "star:2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemCacheStoreCloseStopsSweeper(t *testing.T) {
	s := NewMemCacheStore(time.Millisecond)
	s.Close()
	select {
	case <-s.done:
	default:
		t.Fatal("done channel still open after Close")
	}
	// closing twice is safe
	s.Close()
}

func TestMemCacheStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemCacheStore(0)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = s.Set(ctx, "hot", []byte("v"), time.Minute)
				_, _, _ = s.Get(ctx, "hot")
				_ = s.Invalidate(ctx, "cold")
			}
		}()
	}
	wg.Wait()
}
