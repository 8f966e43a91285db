// In-process fan-out of entity-change events to a dynamic set of
// subscribers, feeding the SSE endpoints.
//
// Delivery is best-effort notification, not a durable log: subscribers only
// see events emitted while connected, and must resynchronize through the
// normal read path after reconnecting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/astral-systems/starmap/models"
)

// Operation is the kind of change an event describes.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

// ChangeEvent describes one committed change to an entity. Seq is strictly
// increasing per entity type; Payload carries the entity snapshot and is
// omitted for deletes.
type ChangeEvent struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Operation  Operation         `json:"operation"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Seq        int64             `json:"seq"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// DefaultBufferSize is the per-subscriber delivery channel capacity.
const DefaultBufferSize = 64

type EventManager struct {
	subs []*Subscriber

	ops        chan *operation
	closed     chan struct{}
	bufferSize int
	logger     *slog.Logger
}

func NewEventManager(logger *slog.Logger) *EventManager {
	return &EventManager{
		ops:        make(chan *operation),
		closed:     make(chan struct{}),
		bufferSize: DefaultBufferSize,
		logger:     logger.With("component", "events"),
	}
}

const (
	opSubscribe = iota
	opUnsubscribe
	opSend
)

type operation struct {
	op  int
	sub *Subscriber
	evt *ChangeEvent
}

type Subscriber struct {
	outgoing chan *ChangeEvent

	filter func(*ChangeEvent) bool

	connectedAt time.Time
}

// Run processes subscribe, unsubscribe and publish operations until Shutdown.
// All subscriber-set mutation happens on this single goroutine, so publishes
// see a consistent set and delivery follows registration order.
func (em *EventManager) Run() {
	for {
		select {
		case op := <-em.ops:
			em.handle(op)
		case <-em.closed:
			for _, s := range em.subs {
				close(s.outgoing)
			}
			em.subs = nil
			return
		}
	}
}

func (em *EventManager) handle(op *operation) {
	switch op.op {
	case opSubscribe:
		em.subs = append(em.subs, op.sub)
		subscribersConnected.Inc()
		subscribersActive.Set(float64(len(em.subs)))
	case opUnsubscribe:
		em.remove(op.sub)
	case opSend:
		eventsPublished.WithLabelValues(string(op.evt.EntityType), string(op.evt.Operation)).Inc()
		// deliver in registration order; iterate a snapshot since eviction
		// mutates the set mid-publish
		for _, s := range append([]*Subscriber(nil), em.subs...) {
			if !s.filter(op.evt) {
				continue
			}
			select {
			case s.outgoing <- op.evt:
			default:
				// slow consumer: disconnect rather than block the
				// publisher; the client reconnects and resyncs with a
				// fresh read
				em.logger.Warn("dropping slow subscriber",
					"entityType", op.evt.EntityType, "connectedAt", s.connectedAt)
				subscribersDropped.Inc()
				em.remove(s)
				close(s.outgoing)
			}
		}
	default:
		em.logger.Error("unrecognized event manager operation", "op", op.op)
	}
}

func (em *EventManager) remove(sub *Subscriber) {
	for i, s := range em.subs {
		if s == sub {
			em.subs = append(em.subs[:i], em.subs[i+1:]...)
			break
		}
	}
	subscribersActive.Set(float64(len(em.subs)))
}

// AddEvent hands an event to the run loop for fan-out. It blocks only while
// the run loop is mid-operation, never on any individual subscriber.
func (em *EventManager) AddEvent(ctx context.Context, evt *ChangeEvent) error {
	select {
	case em.ops <- &operation{op: opSend, evt: evt}:
		return nil
	case <-em.closed:
		return fmt.Errorf("event manager shut down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TypeFilter matches events for a single entity type.
func TypeFilter(typ models.EntityType) func(*ChangeEvent) bool {
	return func(evt *ChangeEvent) bool {
		return evt.EntityType == typ
	}
}

// Subscribe registers a subscriber and returns its delivery channel plus a
// cleanup func. The channel closes when the subscriber is evicted as a slow
// consumer or the manager shuts down; cleanup is idempotent enough to call
// either way. A nil filter matches everything.
func (em *EventManager) Subscribe(filter func(*ChangeEvent) bool) (<-chan *ChangeEvent, func(), error) {
	if filter == nil {
		filter = func(*ChangeEvent) bool { return true }
	}

	sub := &Subscriber{
		outgoing:    make(chan *ChangeEvent, em.bufferSize),
		filter:      filter,
		connectedAt: time.Now(),
	}

	select {
	case em.ops <- &operation{op: opSubscribe, sub: sub}:
	case <-em.closed:
		return nil, nil, fmt.Errorf("event manager shut down")
	}

	cleanup := func() {
		select {
		case em.ops <- &operation{op: opUnsubscribe, sub: sub}:
		case <-em.closed:
		}
	}

	return sub.outgoing, cleanup, nil
}

// Shutdown stops the run loop and closes every subscriber channel.
func (em *EventManager) Shutdown(ctx context.Context) error {
	select {
	case <-em.closed:
	default:
		close(em.closed)
	}
	return nil
}
