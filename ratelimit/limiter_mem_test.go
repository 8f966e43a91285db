package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, times int, window time.Duration) (*MemLimiter, *time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	l := NewMemLimiter(times, window)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestMemLimiterWindow(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLimiter(t, 2, time.Minute)

	// calls at t=0,1,2 admit, admit, deny
	for i, want := range []bool{true, true, false} {
		got, err := l.Allow(ctx, "client:A")
		require.NoError(t, err)
		assert.Equal(t, want, got, "call %d", i)
		*now = now.Add(time.Second)
	}

	// one window later the key is admitted again
	*now = now.Add(61 * time.Second)
	got, err := l.Allow(ctx, "client:A")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestMemLimiterKeysIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 1, time.Minute)

	got, err := l.Allow(ctx, "client:A")
	require.NoError(t, err)
	require.True(t, got)

	got, err = l.Allow(ctx, "client:A")
	require.NoError(t, err)
	require.False(t, got)

	got, err = l.Allow(ctx, "client:B")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestMemLimiterDeniedCallsDoNotExtendWindow(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLimiter(t, 1, time.Minute)

	_, err := l.Allow(ctx, "client:A")
	require.NoError(t, err)

	*now = now.Add(30 * time.Second)
	got, err := l.Allow(ctx, "client:A")
	require.NoError(t, err)
	require.False(t, got)

	// window started at t=0, so t=61 falls in a fresh window even though a
	// denied call happened at t=30
	*now = now.Add(31 * time.Second)
	got, err = l.Allow(ctx, "client:A")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestMemLimiterZeroTimesDisablesLimiting(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 0, time.Minute)

	for i := 0; i < 5; i++ {
		got, err := l.Allow(ctx, "client:A")
		require.NoError(t, err)
		assert.True(t, got, "call %d", i)
	}
	assert.Equal(t, 0, l.buckets.Size())
}

func TestMemLimiterConcurrentAdmission(t *testing.T) {
	ctx := context.Background()
	const limit = 10
	l := NewMemLimiter(limit, time.Minute)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(ctx, "client:A")
			assert.NoError(t, err)
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// check-and-increment is atomic: never more admissions than the limit
	assert.Equal(t, int64(limit), admitted.Load())
}

func TestScanGate(t *testing.T) {
	g := NewScanGate(2, time.Minute)
	assert.True(t, g.Allow())
	assert.True(t, g.Allow())
	assert.False(t, g.Allow())
}
