package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/astral-systems/starmap/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func newRunningManager(t *testing.T) *EventManager {
	t.Helper()
	em := NewEventManager(testLogger())
	go em.Run()
	t.Cleanup(func() {
		_ = em.Shutdown(context.Background())
	})
	return em
}

func mkEvent(typ models.EntityType, id string, op Operation, seq int64) *ChangeEvent {
	return &ChangeEvent{
		EntityType: typ,
		EntityID:   id,
		Operation:  op,
		Payload:    json.RawMessage(`{"id":"` + id + `"}`),
		Seq:        seq,
		EmittedAt:  time.Now().UTC(),
	}
}

func recvOne(t *testing.T, ch <-chan *ChangeEvent) *ChangeEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed before event arrived")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSubscriberReceivesMatchingEvents(t *testing.T) {
	ctx := context.Background()
	em := newRunningManager(t)

	ch, cleanup, err := em.Subscribe(TypeFilter(models.EntityTypeStar))
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, em.AddEvent(ctx, mkEvent(models.EntityTypeStar, "7", OpCreated, 1)))

	evt := recvOne(t, ch)
	assert.Equal(t, models.EntityTypeStar, evt.EntityType)
	assert.Equal(t, "7", evt.EntityID)
	assert.Equal(t, OpCreated, evt.Operation)
}

func TestSubscriberFilterExcludesOtherTypes(t *testing.T) {
	ctx := context.Background()
	em := newRunningManager(t)

	starCh, starCleanup, err := em.Subscribe(TypeFilter(models.EntityTypeStar))
	require.NoError(t, err)
	defer starCleanup()
	userCh, userCleanup, err := em.Subscribe(TypeFilter(models.EntityTypeUser))
	require.NoError(t, err)
	defer userCleanup()

	require.NoError(t, em.AddEvent(ctx, mkEvent(models.EntityTypeUser, "u1", OpCreated, 1)))
	require.NoError(t, em.AddEvent(ctx, mkEvent(models.EntityTypeStar, "7", OpCreated, 1)))

	// star subscriber sees only the star event even though the user event
	// was published first
	evt := recvOne(t, starCh)
	assert.Equal(t, models.EntityTypeStar, evt.EntityType)
	select {
	case extra := <-starCh:
		t.Fatalf("unexpected event for star subscriber: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	evt = recvOne(t, userCh)
	assert.Equal(t, models.EntityTypeUser, evt.EntityType)
}

func TestPerSubscriberOrdering(t *testing.T) {
	ctx := context.Background()
	em := newRunningManager(t)

	ch, cleanup, err := em.Subscribe(TypeFilter(models.EntityTypeStar))
	require.NoError(t, err)
	defer cleanup()

	ops := []Operation{OpCreated, OpUpdated, OpDeleted}
	for i, op := range ops {
		require.NoError(t, em.AddEvent(ctx, mkEvent(models.EntityTypeStar, "7", op, int64(i+1))))
	}

	var lastSeq int64
	for i, want := range ops {
		evt := recvOne(t, ch)
		assert.Equal(t, want, evt.Operation, "event %d", i)
		assert.Greater(t, evt.Seq, lastSeq)
		lastSeq = evt.Seq
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	ctx := context.Background()
	em := newRunningManager(t)

	ch, cleanup, err := em.Subscribe(nil)
	require.NoError(t, err)
	defer cleanup()

	// witness subscriber matching only the final, overflowing event; delivery
	// runs in registration order, so once the witness holds that event the
	// eviction of the subscriber above has already happened
	witnessCh, witnessCleanup, err := em.Subscribe(TypeFilter(models.EntityTypeUser))
	require.NoError(t, err)
	defer witnessCleanup()

	// publishes serialize through the unbuffered ops channel: each handoff
	// implies the previous event was fully delivered, so the overflowing
	// publish below is handled against a full channel
	for i := 0; i < DefaultBufferSize; i++ {
		require.NoError(t, em.AddEvent(ctx, mkEvent(models.EntityTypeStar, "7", OpUpdated, int64(i+1))))
	}
	require.NoError(t, em.AddEvent(ctx, mkEvent(models.EntityTypeUser, "u1", OpCreated, 1)))
	recvOne(t, witnessCh)

	// the subscriber was evicted: after draining the buffered events the
	// channel reports closed
	count := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				assert.Equal(t, DefaultBufferSize, count)
				return
			}
			count++
		case <-time.After(time.Second):
			t.Fatal("channel never closed after overflow")
		}
	}
}

func TestHealthySubscriberSurvivesOthersEviction(t *testing.T) {
	ctx := context.Background()
	em := newRunningManager(t)

	slowCh, slowCleanup, err := em.Subscribe(nil)
	require.NoError(t, err)
	defer slowCleanup()

	fastCh, fastCleanup, err := em.Subscribe(nil)
	require.NoError(t, err)
	defer fastCleanup()

	// drain the healthy subscriber in lockstep with publishing so only the
	// undrained one overflows
	total := DefaultBufferSize + 5
	for i := 0; i < total; i++ {
		require.NoError(t, em.AddEvent(ctx, mkEvent(models.EntityTypeStar, "7", OpUpdated, int64(i+1))))
		evt := recvOne(t, fastCh)
		assert.Equal(t, int64(i+1), evt.Seq)
	}

	// the undrained subscriber was evicted at the overflow: its channel
	// closes after the buffered events drain
	drained := 0
	for {
		select {
		case _, ok := <-slowCh:
			if !ok {
				assert.Equal(t, DefaultBufferSize, drained)
				return
			}
			drained++
		case <-time.After(time.Second):
			t.Fatal("slow subscriber channel never closed")
		}
	}
}

func TestAddEventAfterShutdown(t *testing.T) {
	ctx := context.Background()
	em := NewEventManager(testLogger())
	go em.Run()

	ch, _, err := em.Subscribe(nil)
	require.NoError(t, err)

	require.NoError(t, em.Shutdown(ctx))

	// subscriber channels close on shutdown
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed on shutdown")
	}

	err = em.AddEvent(ctx, mkEvent(models.EntityTypeStar, "7", OpCreated, 1))
	assert.Error(t, err)
}
