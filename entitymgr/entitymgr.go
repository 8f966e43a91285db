// Coordination layer between the API handlers and everything else: rate
// limiter, cache manager, durable table store, and the event bus.
//
// Every mutation follows the same state machine: admission, durable
// operation, cache sync, event publish, response. The durable store is the
// source of truth; cache and fan-out failures after a committed write are
// logged and swallowed, never surfaced. A failed durable operation publishes
// nothing and mutates no cache entry.
package entitymgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astral-systems/starmap/cachemgr"
	"github.com/astral-systems/starmap/events"
	"github.com/astral-systems/starmap/models"
	"github.com/astral-systems/starmap/ratelimit"
	"github.com/astral-systems/starmap/tablestore"

	"github.com/google/uuid"
)

// ErrRateLimited is returned when the admission gate denies a request. The
// API layer maps it to 429; the core never retries on the caller's behalf.
var ErrRateLimited = errors.New("rate limited")

type Manager struct {
	store   tablestore.Store
	cache   *cachemgr.Manager
	limiter ratelimit.Limiter
	bus     *events.EventManager
	scans   *ratelimit.ScanGate
	logger  *slog.Logger

	// one lock+sequence per entity type: sequence numbers are assigned in
	// the same critical section as the durable write they describe, so event
	// order matches commit order
	states map[models.EntityType]*typeState
}

type typeState struct {
	mu  sync.Mutex
	seq int64
}

func NewManager(store tablestore.Store, cache *cachemgr.Manager, limiter ratelimit.Limiter, bus *events.EventManager, scans *ratelimit.ScanGate, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		cache:   cache,
		limiter: limiter,
		bus:     bus,
		scans:   scans,
		logger:  logger.With("component", "entitymgr"),
		states: map[models.EntityType]*typeState{
			models.EntityTypeStar: {},
			models.EntityTypeUser: {},
		},
	}
}

func (m *Manager) state(typ models.EntityType) *typeState {
	return m.states[typ]
}

func (m *Manager) admit(ctx context.Context, client string, verb string, typ models.EntityType) error {
	ok, err := m.limiter.Allow(ctx, client+"/"+verb+":"+string(typ))
	if err != nil {
		// a broken limiter backend fails open: admission is protection for
		// the store, not a correctness requirement
		m.logger.Warn("rate limiter unavailable, admitting", "client", client, "err", err)
		return nil
	}
	if !ok {
		requestsDenied.WithLabelValues(verb, string(typ)).Inc()
		return ErrRateLimited
	}
	return nil
}

// HandleRead returns the entity's JSON snapshot, served from cache when
// possible. A miss reads the durable store and fills the cache with the TTL
// class the key's popularity earns it.
func (m *Manager) HandleRead(ctx context.Context, client string, typ models.EntityType, id string) ([]byte, error) {
	if err := m.admit(ctx, client, "read", typ); err != nil {
		return nil, err
	}
	return m.cache.Read(ctx, typ.CacheKey(id), func(ctx context.Context) ([]byte, error) {
		rec, err := m.store.Read(ctx, typ, id)
		if err != nil {
			return nil, err
		}
		return rec.Data, nil
	})
}

// HandleWrite creates the entity when id is empty (assigning a fresh id) and
// updates it otherwise. Updates of unknown ids fail with
// tablestore.ErrNotFound rather than upserting.
func (m *Manager) HandleWrite(ctx context.Context, client string, typ models.EntityType, id string, data []byte) (*tablestore.Record, error) {
	if err := m.admit(ctx, client, "write", typ); err != nil {
		return nil, err
	}

	if id == "" {
		return m.commit(ctx, typ, uuid.New().String(), events.OpCreated, data)
	}
	return m.commit(ctx, typ, id, events.OpUpdated, data)
}

// HandleCreate writes a new entity under a caller-assigned id and publishes
// a created event. Unlike an update it never requires an existing row;
// callers use it when the id was just minted.
func (m *Manager) HandleCreate(ctx context.Context, client string, typ models.EntityType, id string, data []byte) (*tablestore.Record, error) {
	if err := m.admit(ctx, client, "write", typ); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}
	return m.commit(ctx, typ, id, events.OpCreated, data)
}

// commit is the single mutation path: durable write, sequence assignment,
// cache sync, and publish all happen under the per-type lock so subscribers
// observe events in commit order.
func (m *Manager) commit(ctx context.Context, typ models.EntityType, id string, op events.Operation, data []byte) (*tablestore.Record, error) {
	st := m.state(typ)
	st.mu.Lock()
	defer st.mu.Unlock()

	if op == events.OpUpdated {
		if _, err := m.store.Read(ctx, typ, id); err != nil {
			return nil, err
		}
	}

	rec, err := m.store.Write(ctx, &tablestore.Record{Type: typ, ID: id, Data: data})
	if err != nil {
		storeErrors.WithLabelValues("write").Inc()
		return nil, err
	}

	st.seq++
	m.syncAndPublish(ctx, typ, id, op, rec.Data, st.seq)
	return rec, nil
}

// HandleDelete removes the entity, invalidates its cache entry, and
// publishes a deleted event carrying only the id.
func (m *Manager) HandleDelete(ctx context.Context, client string, typ models.EntityType, id string) error {
	if err := m.admit(ctx, client, "delete", typ); err != nil {
		return err
	}

	st := m.state(typ)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.store.Delete(ctx, typ, id); err != nil {
		if !errors.Is(err, tablestore.ErrNotFound) {
			storeErrors.WithLabelValues("delete").Inc()
		}
		return err
	}

	st.seq++
	m.syncAndPublish(ctx, typ, id, events.OpDeleted, nil, st.seq)
	return nil
}

// HandleList returns all records of the given type. Full-table scans are
// expensive against the table service, so they pass through the scan gate
// rather than the per-client limiter.
func (m *Manager) HandleList(ctx context.Context, typ models.EntityType, filter tablestore.ListFilter) ([]*tablestore.Record, error) {
	if m.scans != nil && !m.scans.Allow() {
		requestsDenied.WithLabelValues("list", string(typ)).Inc()
		return nil, ErrRateLimited
	}
	recs, err := m.store.List(ctx, typ, filter)
	if err != nil {
		storeErrors.WithLabelValues("list").Inc()
		return nil, err
	}
	return recs, nil
}

// HandleLike applies the like mutation to a star: brightness boost, fresh
// LastLiked stamp, write-through, and an updated event. Likes count as
// demand, so the access is recorded toward popularity as well.
func (m *Manager) HandleLike(ctx context.Context, client string, id string) (*models.Star, error) {
	if err := m.admit(ctx, client, "like", models.EntityTypeStar); err != nil {
		return nil, err
	}
	m.cache.RecordDemand(ctx, models.EntityTypeStar.CacheKey(id))

	st := m.state(models.EntityTypeStar)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := m.store.Read(ctx, models.EntityTypeStar, id)
	if err != nil {
		return nil, err
	}

	var star models.Star
	if err := json.Unmarshal(rec.Data, &star); err != nil {
		return nil, fmt.Errorf("corrupt star record %s: %w", id, err)
	}
	star.Like(time.Now())

	data, err := json.Marshal(&star)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.Write(ctx, &tablestore.Record{Type: models.EntityTypeStar, ID: id, Data: data}); err != nil {
		storeErrors.WithLabelValues("write").Inc()
		return nil, err
	}

	st.seq++
	m.syncAndPublish(ctx, models.EntityTypeStar, id, events.OpUpdated, data, st.seq)
	return &star, nil
}

// HandlePurge deletes every entity of the given type and publishes one
// deleted event per entity. Callers gate access themselves; it bypasses
// per-client admission.
func (m *Manager) HandlePurge(ctx context.Context, typ models.EntityType) (int, error) {
	st := m.state(typ)
	st.mu.Lock()
	defer st.mu.Unlock()

	recs, err := m.store.List(ctx, typ, tablestore.ListFilter{})
	if err != nil {
		storeErrors.WithLabelValues("list").Inc()
		return 0, err
	}

	removed := 0
	for _, rec := range recs {
		if err := m.store.Delete(ctx, typ, rec.ID); err != nil {
			storeErrors.WithLabelValues("delete").Inc()
			m.logger.Warn("purge delete failed", "entityType", typ, "id", rec.ID, "err", err)
			continue
		}
		removed++
		st.seq++
		m.syncAndPublish(ctx, typ, rec.ID, events.OpDeleted, nil, st.seq)
	}
	return removed, nil
}

// OpenEventStream subscribes to change events for one entity type. The
// returned channel closes on slow-consumer eviction or shutdown; the caller
// must invoke cancel when the connection ends.
func (m *Manager) OpenEventStream(ctx context.Context, typ models.EntityType) (<-chan *events.ChangeEvent, func(), error) {
	return m.bus.Subscribe(events.TypeFilter(typ))
}

// CacheStats exposes the cache manager's counters for the stats endpoint.
func (m *Manager) CacheStats() cachemgr.Stats {
	return m.cache.Stats()
}

// Popular reports whether the entity currently clears the popularity
// threshold.
func (m *Manager) Popular(ctx context.Context, typ models.EntityType, id string) bool {
	return m.cache.Popular(ctx, typ.CacheKey(id))
}

// cache sync and event publish run after a committed durable write; their
// failures are logged and swallowed since the store already holds the truth
func (m *Manager) syncAndPublish(ctx context.Context, typ models.EntityType, id string, op events.Operation, data []byte, seq int64) {
	key := typ.CacheKey(id)
	if op == events.OpDeleted {
		_ = m.cache.Invalidate(ctx, key)
	} else {
		_ = m.cache.Write(ctx, key, data)
	}

	evt := &events.ChangeEvent{
		EntityType: typ,
		EntityID:   id,
		Operation:  op,
		Payload:    data,
		Seq:        seq,
		EmittedAt:  time.Now().UTC(),
	}
	if err := m.bus.AddEvent(ctx, evt); err != nil {
		m.logger.Warn("failed to publish change event", "entityType", typ, "id", id, "err", err)
	}
}
