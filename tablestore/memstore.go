package tablestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/astral-systems/starmap/models"
)

// MemStore is an in-memory Store for tests and local development. FailWith
// makes every subsequent call return the given error, for exercising
// store-unavailable paths.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	failErr error
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*Record)}
}

func (s *MemStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func memKey(typ models.EntityType, id string) string {
	return partitionFor(typ) + "/" + id
}

func (s *MemStore) Read(ctx context.Context, typ models.EntityType, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	rec, ok := s.records[memKey(typ, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) Write(ctx context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	now := time.Now().UTC()
	stored := *rec
	stored.UpdatedAt = now
	if prev, ok := s.records[memKey(rec.Type, rec.ID)]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.records[memKey(rec.Type, rec.ID)] = &stored
	cp := stored
	return &cp, nil
}

func (s *MemStore) Delete(ctx context.Context, typ models.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	k := memKey(typ, id)
	if _, ok := s.records[k]; !ok {
		return ErrNotFound
	}
	delete(s.records, k)
	return nil
}

func (s *MemStore) List(ctx context.Context, typ models.EntityType, filter ListFilter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	prefix := partitionFor(typ) + "/"
	var out []*Record
	for k, rec := range s.records {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
