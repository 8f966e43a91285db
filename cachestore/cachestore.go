package cachestore

import (
	"context"
	"time"
)

type CacheStore interface {
	// Get returns the cached value for key. A missing or expired entry is
	// (nil, false, nil); err reports backend failures only.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set overwrites any existing entry and resets its expiry. Concurrent
	// sets on the same key resolve last-write-wins by completion order.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Invalidate removes the entry for key, if present.
	Invalidate(ctx context.Context, key string) error
}
