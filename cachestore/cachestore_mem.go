package cachestore

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memEntry struct {
	val       []byte
	expiresAt time.Time
}

// MemCacheStore is an in-process CacheStore on a concurrent hash map.
// Operations are atomic per key; unrelated keys never contend on a shared
// lock. Expired entries are evicted lazily on read; an optional sweeper
// bounds memory for keys that are never read again.
type MemCacheStore struct {
	data *xsync.MapOf[string, memEntry]

	now  func() time.Time
	done chan struct{}
}

var _ CacheStore = (*MemCacheStore)(nil)

// NewMemCacheStore creates a store. If sweepInterval is non-zero, a
// background sweep removes expired entries on that period; call Close to
// stop it.
func NewMemCacheStore(sweepInterval time.Duration) *MemCacheStore {
	s := &MemCacheStore{
		data: xsync.NewMapOf[string, memEntry](),
		now:  time.Now,
		done: make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.runSweeper(sweepInterval)
	}
	return s
}

func (s *MemCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
	)
	s.data.Compute(key, func(e memEntry, loaded bool) (memEntry, bool) {
		if !loaded {
			return e, true
		}
		if !s.now().Before(e.expiresAt) {
			// lazy eviction
			return e, true
		}
		val = e.val
		found = true
		return e, false
	})
	return val, found, nil
}

func (s *MemCacheStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	s.data.Store(key, memEntry{val: val, expiresAt: s.now().Add(ttl)})
	return nil
}

func (s *MemCacheStore) Invalidate(ctx context.Context, key string) error {
	s.data.Delete(key)
	return nil
}

// Len reports the number of physically present entries, expired or not.
func (s *MemCacheStore) Len() int {
	return s.data.Size()
}

func (s *MemCacheStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *MemCacheStore) runSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemCacheStore) sweep() {
	now := s.now()
	s.data.Range(func(key string, _ memEntry) bool {
		s.data.Compute(key, func(e memEntry, loaded bool) (memEntry, bool) {
			if loaded && !now.Before(e.expiresAt) {
				return e, true
			}
			return e, !loaded
		})
		return true
	})
}
