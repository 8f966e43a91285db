// Read-through/write-through cache orchestration with popularity-driven TTL
// promotion.
//
// The manager decides which TTL class a key gets: entries for keys accessed
// at least threshold times within the popularity window get the longer
// "popular" TTL, everything else the base TTL. Caching is an optimization,
// never a correctness dependency: any cache or tracker failure is logged and
// the read falls through to the loader.
package cachemgr

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/astral-systems/starmap/cachestore"
	"github.com/astral-systems/starmap/popularity"
)

// Loader fetches the authoritative value on a cache miss. It returns
// tablestore.ErrNotFound (or an equivalent sentinel) when the entity does
// not exist; the manager never caches that outcome.
type Loader func(ctx context.Context) ([]byte, error)

type Manager struct {
	cache   cachestore.CacheStore
	tracker popularity.Tracker

	baseTTL    time.Duration
	popularTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	logger *slog.Logger
}

func NewManager(cache cachestore.CacheStore, tracker popularity.Tracker, baseTTL, popularTTL time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		cache:      cache,
		tracker:    tracker,
		baseTTL:    baseTTL,
		popularTTL: popularTTL,
		logger:     logger.With("component", "cachemgr"),
	}
}

// Read returns the cached value for key or falls back to loader. Every read,
// hit or miss, records an access, so a key serving hits can still cross the
// popularity threshold before its entry expires.
func (m *Manager) Read(ctx context.Context, key string, loader Loader) ([]byte, error) {
	val, found, err := m.cache.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache read failed, falling through to store", "key", key, "err", err)
		found = false
	}

	if _, err := m.tracker.RecordAccess(ctx, key); err != nil {
		m.logger.Warn("popularity tracking failed", "key", key, "err", err)
	}

	if found {
		m.hits.Add(1)
		cacheReads.WithLabelValues("hit").Inc()
		return val, nil
	}
	m.misses.Add(1)
	cacheReads.WithLabelValues("miss").Inc()

	val, err = loader(ctx)
	if err != nil {
		// includes not-found: never cache a negative result, it would mask
		// a subsequent write by another actor
		return nil, err
	}

	if err := m.cache.Set(ctx, key, val, m.ttlFor(ctx, key)); err != nil {
		m.logger.Warn("cache fill failed", "key", key, "err", err)
	}
	return val, nil
}

// Write stores val with whichever TTL class key currently qualifies for.
// Popularity state is untouched: promotion survives writes.
func (m *Manager) Write(ctx context.Context, key string, val []byte) error {
	if err := m.cache.Set(ctx, key, val, m.ttlFor(ctx, key)); err != nil {
		m.logger.Warn("cache write failed", "key", key, "err", err)
		return err
	}
	return nil
}

// Invalidate removes the cache entry. Popularity counters are left alone;
// they reflect demand, not cache content.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	if err := m.cache.Invalidate(ctx, key); err != nil {
		m.logger.Warn("cache invalidation failed", "key", key, "err", err)
		return err
	}
	return nil
}

// RecordDemand counts one access toward key's popularity without touching
// cache content. Mutations that signal demand (likes) use it.
func (m *Manager) RecordDemand(ctx context.Context, key string) {
	if _, err := m.tracker.RecordAccess(ctx, key); err != nil {
		m.logger.Warn("popularity tracking failed", "key", key, "err", err)
	}
}

// Popular reports whether key currently clears the popularity threshold.
// Tracker failures read as not-popular.
func (m *Manager) Popular(ctx context.Context, key string) bool {
	popular, err := m.tracker.IsPopular(ctx, key)
	if err != nil {
		m.logger.Warn("popularity check failed", "key", key, "err", err)
		return false
	}
	return popular
}

func (m *Manager) ttlFor(ctx context.Context, key string) time.Duration {
	popular, err := m.tracker.IsPopular(ctx, key)
	if err != nil {
		m.logger.Warn("popularity check failed, using base TTL", "key", key, "err", err)
		return m.baseTTL
	}
	if popular {
		return m.popularTTL
	}
	return m.baseTTL
}

// Stats reports cumulative hit/miss counts for the stats endpoint.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (m *Manager) Stats() Stats {
	h := m.hits.Load()
	mi := m.misses.Load()
	s := Stats{Hits: h, Misses: mi}
	if h+mi > 0 {
		s.HitRate = float64(h) / float64(h+mi)
	}
	return s
}
