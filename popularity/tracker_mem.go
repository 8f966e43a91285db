package popularity

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type counter struct {
	windowStart time.Time
	count       int
}

// MemTracker keeps counters in a concurrent hash map with per-key atomic
// updates; hot keys never serialize against unrelated ones. A counter never
// spans two windows: the reset-or-increment happens in a single atomic step.
type MemTracker struct {
	threshold int
	window    time.Duration

	counters *xsync.MapOf[string, counter]
	now      func() time.Time
}

var _ Tracker = (*MemTracker)(nil)

func NewMemTracker(threshold int, window time.Duration) *MemTracker {
	return &MemTracker{
		threshold: threshold,
		window:    window,
		counters:  xsync.NewMapOf[string, counter](),
		now:       time.Now,
	}
}

func (t *MemTracker) RecordAccess(ctx context.Context, key string) (int, error) {
	now := t.now()
	c, _ := t.counters.Compute(key, func(c counter, loaded bool) (counter, bool) {
		if !loaded || now.Sub(c.windowStart) > t.window {
			return counter{windowStart: now, count: 1}, false
		}
		c.count++
		return c, false
	})
	return c.count, nil
}

func (t *MemTracker) IsPopular(ctx context.Context, key string) (bool, error) {
	c, ok := t.counters.Load(key)
	if !ok {
		return false, nil
	}
	if t.now().Sub(c.windowStart) > t.window {
		return false, nil
	}
	return c.count >= t.threshold, nil
}
