package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"conductor/errors"
	"conductor/eventing"
	"conductor/integration"
	"conductor/orchestration"
	"conductor/saga"
	"conductor/workflow"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "conductor_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Init(context.Background(), db))
	return db
}

func storedEvent(id, aggregateID string, version uint64, eventType string) *eventing.Event {
	return &eventing.Event{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: eventing.AggregateMeeting,
		EventType:     eventType,
		EventData:     map[string]any{"title": "Standup"},
		Version:       version,
		Timestamp:     time.Now(),
		UserID:        "user-1",
		CorrelationID: "corr-1",
	}
}

func TestEventStoreAppendAndLoad(t *testing.T) {
	store := NewEventStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, storedEvent("evt-1", "meeting-1", 1, eventing.EventMeetingEnded)))
	require.NoError(t, store.Append(ctx, storedEvent("evt-2", "meeting-1", 2, eventing.EventMeetingEnded)))

	events, err := store.LoadByAggregate(ctx, "meeting-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Version)
	assert.Equal(t, uint64(2), events[1].Version)
	assert.Equal(t, "Standup", events[0].EventData["title"])

	version, err := store.LatestVersion(ctx, "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	next, err := eventing.NextVersion(ctx, store, "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)
}

func TestEventStoreRejectsVersionGap(t *testing.T) {
	store := NewEventStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, storedEvent("evt-1", "meeting-1", 1, eventing.EventMeetingEnded)))

	err := store.Append(ctx, storedEvent("evt-3", "meeting-1", 3, eventing.EventMeetingEnded))
	var conflict *eventing.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint64(2), conflict.ExpectedVersion)
	assert.Equal(t, uint64(3), conflict.ActualVersion)

	err = store.Append(ctx, storedEvent("evt-dup", "meeting-1", 1, eventing.EventMeetingEnded))
	require.ErrorAs(t, err, &conflict)
}

func TestEventStoreLoadByTypeNewestFirst(t *testing.T) {
	store := NewEventStore(newTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		evt := storedEvent("evt-"+string(rune('a'+i)), "meeting-"+string(rune('a'+i)), 1, eventing.EventMeetingEnded)
		evt.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Append(ctx, evt))
	}

	events, err := store.LoadByType(ctx, eventing.EventMeetingEnded, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-c", events[0].ID)
	assert.Equal(t, "evt-b", events[1].ID)
}

func TestEventStoreLoadByCorrelationAscending(t *testing.T) {
	store := NewEventStore(newTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		evt := storedEvent("evt-"+string(rune('a'+i)), "agg-"+string(rune('a'+i)), 1, eventing.EventMeetingEnded)
		evt.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Append(ctx, evt))
	}

	events, err := store.LoadByCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-a", events[0].ID)
	assert.Equal(t, "evt-c", events[2].ID)
}

func TestSagaStoreRoundTrip(t *testing.T) {
	store := NewSagaStore(newTestDB(t))
	ctx := context.Background()

	definition, err := saga.BuiltinDefinition(saga.DefClientOnboarding)
	require.NoError(t, err)
	instance := definition.Materialize("corr-1", "user-1", map[string]any{"source": "test"})

	require.NoError(t, store.Save(ctx, instance))
	assert.True(t, errors.IsConflict(store.Save(ctx, instance)))

	instance.Status = saga.StatusCompleted
	instance.Steps[0].Status = saga.StepCompleted
	instance.Steps[0].Result = map[string]any{"ok": true}
	require.NoError(t, store.Update(ctx, instance))

	loaded, err := store.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, loaded.Status)
	require.Len(t, loaded.Steps, len(instance.Steps))
	assert.Equal(t, saga.StepCompleted, loaded.Steps[0].Status)
	assert.Equal(t, instance.Steps[0].Action, loaded.Steps[0].Action)
	assert.Equal(t, "test", loaded.Metadata["source"])

	byCorrelation, err := store.GetByCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, byCorrelation, 1)

	byStatus, err := store.GetByStatus(ctx, saga.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	missing := *instance
	missing.ID = "missing"
	assert.True(t, errors.IsNotFound(store.Update(ctx, &missing)))
}

func sqliteWorkflowDefinition(id string, active bool) *workflow.Definition {
	return &workflow.Definition{
		ID:       id,
		ClientID: "client-1",
		Name:     "Test Workflow",
		Version:  1,
		Active:   active,
		States: []workflow.State{
			{ID: "s-start", Name: "Start", Type: workflow.StateStart},
			{ID: "s-end", Name: "End", Type: workflow.StateEnd},
		},
		Transitions: []workflow.Transition{
			{FromState: "s-start", ToState: "s-end"},
		},
	}
}

func TestDefinitionStoreRoundTrip(t *testing.T) {
	store := NewDefinitionStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.SaveDefinition(ctx, sqliteWorkflowDefinition("wf-1", true)))
	require.NoError(t, store.SaveDefinition(ctx, sqliteWorkflowDefinition("wf-2", false)))

	loaded, err := store.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Workflow", loaded.Name)
	require.Len(t, loaded.States, 2)

	_, err = store.GetDefinition(ctx, "wf-2")
	assert.True(t, errors.IsNotFound(err), "inactive definitions are invisible")

	active, err := store.ListActiveDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "wf-1", active[0].ID)

	updated := sqliteWorkflowDefinition("wf-1", true)
	updated.Name = "Renamed"
	require.NoError(t, store.SaveDefinition(ctx, updated))
	loaded, err = store.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Name)
}

func TestExecutionStoreRoundTripAndPagination(t *testing.T) {
	store := NewExecutionStore(newTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		execution := &workflow.Execution{
			ID:         "exec-" + string(rune('a'+i)),
			WorkflowID: "wf-1",
			ClientID:   "client-1",
			Status:     workflow.ExecutionCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			Context: workflow.ExecutionContext{
				Variables: map[string]any{"n": float64(i)},
				InputData: map[string]any{"source": "test"},
			},
		}
		require.NoError(t, store.SaveExecution(ctx, execution))
	}

	page, total, err := store.ListExecutions(ctx, "wf-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "exec-e", page[0].ID, "newest first")

	page, _, err = store.ListExecutions(ctx, "wf-1", 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "exec-a", page[0].ID)

	loaded, err := store.GetExecution(ctx, "exec-a")
	require.NoError(t, err)
	assert.Equal(t, float64(0), loaded.Context.Variables["n"])

	loaded.Status = workflow.ExecutionFailed
	loaded.Error = "boom"
	now := time.Now()
	loaded.CompletedAt = &now
	require.NoError(t, store.UpdateExecution(ctx, loaded))

	reloaded, err := store.GetExecution(ctx, "exec-a")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionFailed, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)

	_, err = store.GetExecution(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestConfigStoreRoundTrip(t *testing.T) {
	store := NewConfigStore(newTestDB(t))
	ctx := context.Background()

	config := &integration.Config{
		ID:          "cfg-1",
		ClientID:    "client-1",
		Type:        integration.TypeSalesforce,
		Name:        "Main CRM",
		Status:      "active",
		Credentials: map[string]any{"token": "secret"},
		Settings:    map[string]any{"sandbox": true},
	}
	require.NoError(t, store.SaveConfig(ctx, config))

	loaded, err := store.GetActiveConfig(ctx, integration.TypeSalesforce, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "Main CRM", loaded.Name)
	assert.Equal(t, "secret", loaded.Credentials["token"])

	config.Status = "disabled"
	require.NoError(t, store.SaveConfig(ctx, config))
	_, err = store.GetActiveConfig(ctx, integration.TypeSalesforce, "client-1")
	assert.True(t, errors.IsNotFound(err))

	configs, err := store.ListConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)

	invalid := &integration.Config{ID: "cfg-2"}
	assert.True(t, errors.IsValidation(store.SaveConfig(ctx, invalid)))
}

func TestStatusStoreUpsert(t *testing.T) {
	store := NewStatusStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &orchestration.ProcessingStatus{
		EventID:   "evt-1",
		Status:    orchestration.StateProcessing,
		UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.Upsert(ctx, &orchestration.ProcessingStatus{
		EventID:   "evt-1",
		Status:    orchestration.StateFailed,
		Error:     "boom",
		UpdatedAt: time.Now(),
	}))

	status, err := store.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, orchestration.StateFailed, status.Status)
	assert.Equal(t, "boom", status.Error)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}
