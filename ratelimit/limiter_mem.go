package ratelimit

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// MemLimiter is an in-process fixed-window limiter. Buckets live in a
// concurrent hash map with per-key atomic check-and-increment, so two
// concurrent requests can never both be admitted past the limit.
type MemLimiter struct {
	times  int
	window time.Duration

	buckets *xsync.MapOf[string, bucket]
	now     func() time.Time
}

var _ Limiter = (*MemLimiter)(nil)

func NewMemLimiter(times int, window time.Duration) *MemLimiter {
	return &MemLimiter{
		times:   times,
		window:  window,
		buckets: xsync.NewMapOf[string, bucket](),
		now:     time.Now,
	}
}

func (l *MemLimiter) Allow(ctx context.Context, limiterKey string) (bool, error) {
	if l.times <= 0 {
		// limiting disabled; keep no buckets
		return true, nil
	}
	now := l.now()
	allowed := false
	l.buckets.Compute(limiterKey, func(b bucket, loaded bool) (bucket, bool) {
		if !loaded || now.Sub(b.windowStart) > l.window {
			allowed = true
			return bucket{windowStart: now, count: 1}, false
		}
		if b.count < l.times {
			b.count++
			allowed = true
		} else {
			// denied calls still count nothing; the bucket stays put
			allowed = false
		}
		return b, false
	})
	return allowed, nil
}
