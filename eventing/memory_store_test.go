package eventing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id, aggregateID string, version uint64) *Event {
	return &Event{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: AggregateMeeting,
		EventType:     EventMeetingEnded,
		EventData:     map[string]any{"title": "Standup"},
		Version:       version,
		Timestamp:     time.Now(),
		UserID:        "user-1",
		CorrelationID: "corr-1",
	}
}

func TestAppendAndLoadByAggregate(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, testEvent("evt-1", "meeting-1", 1)))
	require.NoError(t, store.Append(ctx, testEvent("evt-2", "meeting-1", 2)))

	events, err := store.LoadByAggregate(ctx, "meeting-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Version)

	events, err = store.LoadByAggregate(ctx, "meeting-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-2", events[0].ID)
}

func TestAppendRejectsNonSequentialVersion(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, testEvent("evt-1", "meeting-1", 1)))

	err := store.Append(ctx, testEvent("evt-3", "meeting-1", 3))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint64(2), conflict.ExpectedVersion)

	err = store.Append(ctx, testEvent("evt-dup", "meeting-1", 1))
	require.ErrorAs(t, err, &conflict)
}

func TestFirstEventMustBeVersionOne(t *testing.T) {
	store := NewMemoryEventStore()

	err := store.Append(context.Background(), testEvent("evt-1", "meeting-1", 5))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint64(1), conflict.ExpectedVersion)
}

func TestLoadByTypeNewestFirstWithLimit(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		evt := testEvent("evt-"+string(rune('a'+i)), "meeting-"+string(rune('a'+i)), 1)
		evt.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Append(ctx, evt))
	}

	events, err := store.LoadByType(ctx, EventMeetingEnded, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-c", events[0].ID)
	assert.Equal(t, "evt-b", events[1].ID)
}

func TestLoadByCorrelationAscending(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 2; i >= 0; i-- {
		evt := testEvent("evt-"+string(rune('a'+i)), "agg-"+string(rune('a'+i)), 1)
		evt.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Append(ctx, evt))
	}

	events, err := store.LoadByCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-a", events[0].ID)
	assert.Equal(t, "evt-c", events[2].ID)
}

func TestNextVersion(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	next, err := NextVersion(ctx, store, "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	require.NoError(t, store.Append(ctx, testEvent("evt-1", "meeting-1", 1)))
	next, err = NextVersion(ctx, store, "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestBuilderValidates(t *testing.T) {
	_, err := NewBuilder().Build()
	require.Error(t, err)

	evt, err := NewBuilder().
		WithAggregate("client-1", AggregateClient).
		WithEventType(EventClientCreated).
		WithEventData(map[string]any{"name": "Acme"}).
		WithUser("user-1").
		Build()
	require.NoError(t, err)
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, uint64(1), evt.Version)
}
