package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/eventing"
)

func triggeredDefinition(id, clientID string, trigger Trigger) *Definition {
	return &Definition{
		ID:       id,
		ClientID: clientID,
		Name:     "Triggered " + id,
		Version:  1,
		Active:   true,
		Triggers: []Trigger{trigger},
		States: []State{
			{ID: "s-start", Type: StateStart},
			{ID: "s-end", Type: StateEnd},
		},
		Transitions: []Transition{
			{FromState: "s-start", ToState: "s-end"},
		},
	}
}

func newTriggerFixture(t *testing.T, defs ...*Definition) (*TriggerSystem, *Engine) {
	t.Helper()
	definitions := NewMemoryDefinitionStore()
	executions := NewMemoryExecutionStore()
	for _, def := range defs {
		require.NoError(t, definitions.SaveDefinition(context.Background(), def))
	}
	engine := NewEngine(definitions, executions, NoopActionRunner{})
	return NewTriggerSystem(definitions, engine), engine
}

func meetingEndedEvent(userID string, data map[string]any) *eventing.Event {
	return &eventing.Event{
		ID:            "evt-1",
		AggregateID:   "meeting-1",
		AggregateType: eventing.AggregateMeeting,
		EventType:     eventing.EventMeetingEnded,
		EventData:     data,
		Version:       1,
		Timestamp:     time.Now(),
		UserID:        userID,
	}
}

func TestProcessEventTriggersMatchingWorkflow(t *testing.T) {
	def := triggeredDefinition("wf-1", "client-1", Trigger{
		Type:          TriggerEvent,
		Enabled:       true,
		EventType:     eventing.EventMeetingEnded,
		AggregateType: eventing.AggregateMeeting,
	})
	ts, engine := newTriggerFixture(t, def)

	results, err := ts.ProcessEvent(context.Background(), meetingEndedEvent("client-1", nil))
	require.NoError(t, err)
	engine.Wait()

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "wf-1", results[0].WorkflowID)
	assert.NotEmpty(t, results[0].ExecutionID)

	execution, err := engine.GetExecution(context.Background(), results[0].ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, execution.Status)
	// 事件负载内嵌在输入文档中
	_, ok := LookupPath(execution.Context.InputData, "event.id")
	assert.True(t, ok)
}

func TestProcessEventReturnsEmptyWhenNothingMatches(t *testing.T) {
	def := triggeredDefinition("wf-1", "client-1", Trigger{
		Type:      TriggerEvent,
		Enabled:   true,
		EventType: "content.published",
	})
	ts, _ := newTriggerFixture(t, def)

	results, err := ts.ProcessEvent(context.Background(), meetingEndedEvent("client-1", nil))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDisabledTriggerNeverMatches(t *testing.T) {
	def := triggeredDefinition("wf-1", "client-1", Trigger{
		Type:      TriggerEvent,
		Enabled:   false,
		EventType: eventing.EventMeetingEnded,
	})
	ts, _ := newTriggerFixture(t, def)

	results, err := ts.ProcessEvent(context.Background(), meetingEndedEvent("client-1", nil))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClientMismatchNeverMatches(t *testing.T) {
	def := triggeredDefinition("wf-1", "client-1", Trigger{
		Type:      TriggerEvent,
		Enabled:   true,
		EventType: eventing.EventMeetingEnded,
	})
	ts, _ := newTriggerFixture(t, def)

	results, err := ts.ProcessEvent(context.Background(), meetingEndedEvent("someone-else", nil))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTriggerFieldConditionsGateMatching(t *testing.T) {
	def := triggeredDefinition("wf-1", "client-1", Trigger{
		Type:      TriggerEvent,
		Enabled:   true,
		EventType: eventing.EventMeetingEnded,
		Conditions: []FieldCondition{
			{Field: "duration_minutes", Operator: CompGreaterThan, Value: 30},
		},
	})
	ts, engine := newTriggerFixture(t, def)

	results, err := ts.ProcessEvent(context.Background(),
		meetingEndedEvent("client-1", map[string]any{"duration_minutes": float64(15)}))
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = ts.ProcessEvent(context.Background(),
		meetingEndedEvent("client-1", map[string]any{"duration_minutes": float64(45)}))
	require.NoError(t, err)
	engine.Wait()
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

func TestTriggerIsolationOneFailureDoesNotBlockOthers(t *testing.T) {
	good := triggeredDefinition("wf-good", "client-1", Trigger{
		Type:      TriggerEvent,
		Enabled:   true,
		EventType: eventing.EventMeetingEnded,
	})
	broken := triggeredDefinition("wf-broken", "client-1", Trigger{
		Type:      TriggerEvent,
		Enabled:   true,
		EventType: eventing.EventMeetingEnded,
	})

	definitions := NewMemoryDefinitionStore()
	executions := NewMemoryExecutionStore()
	require.NoError(t, definitions.SaveDefinition(context.Background(), good))
	require.NoError(t, definitions.SaveDefinition(context.Background(), broken))
	engine := NewEngine(definitions, executions, NoopActionRunner{})
	ts := NewTriggerSystem(definitions, engine)

	// 先命中一次让匹配进入缓存，再停用 wf-broken：
	// 缓存仍会给出两个候选，但引擎启动 wf-broken 会失败
	_, err := ts.ProcessEvent(context.Background(), meetingEndedEvent("client-1", nil))
	require.NoError(t, err)
	engine.Wait()

	brokenCopy := *broken
	brokenCopy.Active = false
	require.NoError(t, definitions.SaveDefinition(context.Background(), &brokenCopy))

	results, err := ts.ProcessEvent(context.Background(), meetingEndedEvent("client-1", nil))
	require.NoError(t, err)
	engine.Wait()
	require.Len(t, results, 2)

	byID := map[string]TriggerResult{}
	for _, r := range results {
		byID[r.WorkflowID] = r
	}
	assert.True(t, byID["wf-good"].Success)
	assert.False(t, byID["wf-broken"].Success)
	assert.NotEmpty(t, byID["wf-broken"].Error)
}

func TestTriggerCacheServesRepeatLookups(t *testing.T) {
	def := triggeredDefinition("wf-1", "client-1", Trigger{
		Type:      TriggerEvent,
		Enabled:   true,
		EventType: eventing.EventMeetingEnded,
	})
	ts, engine := newTriggerFixture(t, def)

	_, err := ts.ProcessEvent(context.Background(), meetingEndedEvent("client-1", nil))
	require.NoError(t, err)

	// 停用定义后缓存仍返回旧匹配，清空缓存立刻生效
	updated := *def
	updated.Active = false
	require.NoError(t, ts.definitions.SaveDefinition(context.Background(), &updated))

	results, err := ts.ProcessEvent(context.Background(), meetingEndedEvent("client-1", nil))
	require.NoError(t, err)
	assert.Len(t, results, 1)

	ts.ClearCache()
	results, err = ts.ProcessEvent(context.Background(), meetingEndedEvent("client-1", nil))
	require.NoError(t, err)
	assert.Empty(t, results)
	engine.Wait()
}

func TestTriggerStats(t *testing.T) {
	eventDef := triggeredDefinition("wf-1", "client-1", Trigger{
		Type: TriggerEvent, Enabled: true, EventType: eventing.EventMeetingEnded,
	})
	scheduledDef := triggeredDefinition("wf-2", "client-1", Trigger{
		Type: TriggerScheduled, Enabled: true, Schedule: "0 * * * *",
	})
	disabledDef := triggeredDefinition("wf-3", "client-1", Trigger{
		Type: TriggerWebhook, Enabled: false,
	})
	ts, _ := newTriggerFixture(t, eventDef, scheduledDef, disabledDef)

	stats, err := ts.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalWorkflows)
	assert.Equal(t, 1, stats.EventTriggers)
	assert.Equal(t, 1, stats.ScheduledTriggers)
	assert.Equal(t, 0, stats.WebhookTriggers)
}
