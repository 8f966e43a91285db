package cachemgr

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/astral-systems/starmap/cachestore"
	"github.com/astral-systems/starmap/popularity"
	"github.com/astral-systems/starmap/tablestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, baseTTL, popularTTL time.Duration, threshold int) *Manager {
	t.Helper()
	cs := cachestore.NewMemCacheStore(0)
	t.Cleanup(cs.Close)
	tracker := popularity.NewMemTracker(threshold, time.Minute)
	return NewManager(cs, tracker, baseTTL, popularTTL, slog.Default())
}

func staticLoader(val []byte) Loader {
	return func(ctx context.Context) ([]byte, error) {
		return val, nil
	}
}

func countingLoader(val []byte, calls *int) Loader {
	return func(ctx context.Context) ([]byte, error) {
		*calls++
		return val, nil
	}
}

func TestReadThroughFillsOnMiss(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, time.Minute, time.Hour, 100)

	calls := 0
	loader := countingLoader([]byte("payload"), &calls)

	val, err := m.Read(ctx, "star:1", loader)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val)
	assert.Equal(t, 1, calls)

	// second read is a hit, loader not invoked again
	val, err = m.Read(ctx, "star:1", loader)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val)
	assert.Equal(t, 1, calls)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestReadDoesNotCacheNotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, time.Minute, time.Hour, 100)

	calls := 0
	loader := func(ctx context.Context) ([]byte, error) {
		calls++
		return nil, tablestore.ErrNotFound
	}

	_, err := m.Read(ctx, "star:gone", loader)
	require.ErrorIs(t, err, tablestore.ErrNotFound)

	// a second read consults the loader again: absence was not cached
	_, err = m.Read(ctx, "star:gone", loader)
	require.ErrorIs(t, err, tablestore.ErrNotFound)
	assert.Equal(t, 2, calls)
}

func TestPromotionUsesPopularTTL(t *testing.T) {
	ctx := context.Background()
	base := 40 * time.Millisecond
	popular := 400 * time.Millisecond
	m := newTestManager(t, base, popular, 3)

	// three reads within the window cross the threshold; the first misses
	// and fills, the next two hit
	for i := 0; i < 3; i++ {
		_, err := m.Read(ctx, "star:42", staticLoader([]byte("v1")))
		require.NoError(t, err)
	}

	// a write now stores with the popular TTL
	require.NoError(t, m.Write(ctx, "star:42", []byte("v2")))

	// past the base TTL the entry is still present
	time.Sleep(base + 20*time.Millisecond)
	calls := 0
	val, err := m.Read(ctx, "star:42", countingLoader([]byte("reload"), &calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)
	assert.Equal(t, 0, calls)

	// past the popular TTL it is gone
	time.Sleep(popular)
	_, err = m.Read(ctx, "star:42", countingLoader([]byte("reload"), &calls))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestUnpopularKeyUsesBaseTTL(t *testing.T) {
	ctx := context.Background()
	base := 40 * time.Millisecond
	m := newTestManager(t, base, time.Hour, 100)

	_, err := m.Read(ctx, "star:9", staticLoader([]byte("v1")))
	require.NoError(t, err)

	time.Sleep(base + 20*time.Millisecond)
	calls := 0
	_, err = m.Read(ctx, "star:9", countingLoader([]byte("v2"), &calls))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestInvalidatePreservesPopularity(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 40*time.Millisecond, time.Hour, 2)

	_, err := m.Read(ctx, "star:5", staticLoader([]byte("v1")))
	require.NoError(t, err)
	_, err = m.Read(ctx, "star:5", staticLoader([]byte("v1")))
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(ctx, "star:5"))

	// the key stayed promoted through the invalidation: a write after it
	// still gets the popular TTL
	require.NoError(t, m.Write(ctx, "star:5", []byte("v2")))
	time.Sleep(60 * time.Millisecond)
	calls := 0
	val, err := m.Read(ctx, "star:5", countingLoader([]byte("reload"), &calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)
	assert.Equal(t, 0, calls)
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("cache backend down")
}

func (failingCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.New("cache backend down")
}

func (failingCache) Invalidate(ctx context.Context, key string) error {
	return errors.New("cache backend down")
}

func TestDegradedCacheFallsThroughToLoader(t *testing.T) {
	ctx := context.Background()
	tracker := popularity.NewMemTracker(3, time.Minute)
	m := NewManager(failingCache{}, tracker, time.Minute, time.Hour, slog.Default())

	val, err := m.Read(ctx, "star:1", staticLoader([]byte("authoritative")))
	require.NoError(t, err)
	assert.Equal(t, []byte("authoritative"), val)
}
