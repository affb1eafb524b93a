package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/eventing"
	"conductor/integration"
	"conductor/workflow"
)

type dispatchRecorder struct {
	mu        sync.Mutex
	calls     []integration.Action
	failTypes map[integration.ActionType]string
	delay     time.Duration
}

func (r *dispatchRecorder) Dispatch(ctx context.Context, action *integration.Action, config *integration.Config) (map[string]any, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, *action)
	if _, ok := r.failTypes[action.Type]; ok {
		return nil, assert.AnError
	}
	return map[string]any{"ok": true}, nil
}

func (r *dispatchRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	engine       *workflow.Engine
	statuses     *MemoryStatusStore
	client       *dispatchRecorder
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	definitions := workflow.NewMemoryDefinitionStore()
	executions := workflow.NewMemoryExecutionStore()
	engine := workflow.NewEngine(definitions, executions, nil)
	require.NoError(t, definitions.SaveDefinition(context.Background(), meetingWorkflow()))

	configs := integration.NewMemoryConfigStore()
	for _, cfg := range []integration.Config{
		{ID: "cfg-cal", ClientID: "user-1", Type: integration.TypeGoogleCalendar, Status: "active"},
		{ID: "cfg-slack", ClientID: "user-1", Type: integration.TypeSlack, Status: "active"},
	} {
		c := cfg
		require.NoError(t, configs.SaveConfig(context.Background(), &c))
	}

	client := &dispatchRecorder{failTypes: map[integration.ActionType]string{}}
	statuses := NewMemoryStatusStore()
	orchestrator := NewOrchestrator(
		workflow.NewTriggerSystem(definitions, engine),
		integration.NewCoordinator(configs, client),
		statuses,
	)
	return &orchestratorFixture{
		orchestrator: orchestrator,
		engine:       engine,
		statuses:     statuses,
		client:       client,
	}
}

func meetingWorkflow() *workflow.Definition {
	return &workflow.Definition{
		ID:       "wf-meeting",
		ClientID: "user-1",
		Name:     "Meeting Follow-up",
		Active:   true,
		Triggers: []workflow.Trigger{{
			Type:          workflow.TriggerEvent,
			Enabled:       true,
			EventType:     eventing.EventMeetingEnded,
			AggregateType: eventing.AggregateMeeting,
		}},
		States: []workflow.State{
			{ID: "s-start", Name: "Start", Type: workflow.StateStart},
			{ID: "s-end", Name: "End", Type: workflow.StateEnd},
		},
		Transitions: []workflow.Transition{
			{FromState: "s-start", ToState: "s-end"},
		},
	}
}

func meetingEvent(id string) *eventing.Event {
	return &eventing.Event{
		ID:            id,
		AggregateID:   "meeting-1",
		AggregateType: eventing.AggregateMeeting,
		EventType:     eventing.EventMeetingEnded,
		UserID:        "user-1",
		Version:       1,
		Timestamp:     time.Now(),
		EventData: map[string]any{
			"id":                      "meeting-1",
			"title":                   "Quarterly Review",
			"participants":            []any{"a@example.com", "b@example.com"},
			"summary":                 "Reviewed Q3 numbers",
			"calendarIntegration":     "google_calendar",
			"notificationIntegration": "slack",
		},
	}
}

func TestProcessEventRunsFullPipeline(t *testing.T) {
	fx := newOrchestratorFixture(t)

	result := fx.orchestrator.ProcessEvent(context.Background(), meetingEvent("evt-1"))
	fx.engine.Wait()

	require.True(t, result.Success)
	assert.Equal(t, 1, result.WorkflowsTriggered)
	assert.Equal(t, 2, result.IntegrationActions)
	assert.Equal(t, 0, result.IntegrationActionsFailed)
	require.Len(t, result.IntegrationResults, 2)
	assert.Equal(t, "sync-meeting-evt-1", result.IntegrationResults[0].ActionID)
	assert.Equal(t, "send-meeting-summary-evt-1", result.IntegrationResults[1].ActionID)

	status, err := fx.statuses.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.Status)
}

func TestProcessEventDeduplicatesConcurrentCalls(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.client.delay = 50 * time.Millisecond
	event := meetingEvent("evt-dup")

	const callers = 5
	results := make([]*Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = fx.orchestrator.ProcessEvent(context.Background(), event)
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 2, fx.client.callCount(), "actions dispatched once despite concurrent callers")
}

func TestCancelledWaiterGetsFailedResult(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.client.delay = 200 * time.Millisecond
	event := meetingEvent("evt-cancel")

	ownerDone := make(chan *Result, 1)
	go func() {
		ownerDone <- fx.orchestrator.ProcessEvent(context.Background(), event)
	}()

	// 等待首个调用登记在途后再加入
	require.Eventually(t, func() bool {
		return len(fx.orchestrator.InFlight()) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	waiterResult := fx.orchestrator.ProcessEvent(ctx, event)

	require.NotNil(t, waiterResult)
	assert.Equal(t, "evt-cancel", waiterResult.EventID)
	assert.False(t, waiterResult.Success)
	require.NotEmpty(t, waiterResult.Errors)
	assert.Contains(t, waiterResult.Errors[0], context.DeadlineExceeded.Error())

	ownerResult := <-ownerDone
	require.NotNil(t, ownerResult)
	assert.True(t, ownerResult.Success)
	assert.Equal(t, 2, fx.client.callCount())
}

func TestIntegrationFailureMarksEventFailed(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.client.failTypes[integration.ActionSendNotification] = "boom"

	result := fx.orchestrator.ProcessEvent(context.Background(), meetingEvent("evt-fail"))

	require.False(t, result.Success)
	assert.Equal(t, 1, result.IntegrationActionsFailed)
	assert.NotEmpty(t, result.Errors)

	status, err := fx.statuses.Get(context.Background(), "evt-fail")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.Status)
	assert.Contains(t, status.Error, "1 integration actions failed")
}

func TestDeriveIntegrationActions(t *testing.T) {
	actionItem := &eventing.Event{
		ID:        "evt-ai",
		EventType: eventing.EventActionItemCreated,
		EventData: map[string]any{
			"title":                        "Follow up with Acme",
			"projectManagementIntegration": "asana",
			"crmIntegration":               "salesforce",
			"contactInfo": map[string]any{
				"email":     "jane@acme.test",
				"firstName": "Jane",
			},
		},
	}
	actions := deriveIntegrationActions(actionItem, nil)
	require.Len(t, actions, 2)
	assert.Equal(t, integration.ActionCreateTask, actions[0].Type)
	assert.Equal(t, integration.TypeAsana, actions[0].IntegrationType)
	assert.Equal(t, "create-task-evt-ai", actions[0].ID)
	assert.Equal(t, integration.ActionCreateContact, actions[1].Type)
	assert.Equal(t, "jane@acme.test", actions[1].Data["email"])

	welcome := &eventing.Event{
		ID:        "evt-user",
		EventType: eventing.EventUserCreated,
		EventData: map[string]any{
			"email":                   "new@example.com",
			"firstName":               "Sam",
			"notificationIntegration": "slack",
		},
	}
	actions = deriveIntegrationActions(welcome, nil)
	require.Len(t, actions, 1)
	assert.Equal(t, "send-welcome-evt-user", actions[0].ID)
	assert.Equal(t, "welcome", actions[0].Data["template"])

	unconfigured := &eventing.Event{
		ID:        "evt-bare",
		EventType: eventing.EventClientCreated,
		EventData: map[string]any{"name": "Acme"},
	}
	assert.Empty(t, deriveIntegrationActions(unconfigured, nil))

	unknown := &eventing.Event{ID: "evt-x", EventType: "unknown.event", EventData: map[string]any{}}
	assert.Empty(t, deriveIntegrationActions(unknown, nil))
}

func TestMetricsTrackProcessingOutcomes(t *testing.T) {
	fx := newOrchestratorFixture(t)

	fx.orchestrator.ProcessEvent(context.Background(), meetingEvent("evt-m1"))
	fx.client.failTypes[integration.ActionSyncData] = "boom"
	fx.orchestrator.ProcessEvent(context.Background(), meetingEvent("evt-m2"))

	metrics := fx.orchestrator.GetMetrics()
	assert.Equal(t, int64(2), metrics.TotalEventsProcessed)
	assert.Equal(t, int64(2), metrics.EventsProcessedToday)
	assert.InDelta(t, 0.5, metrics.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, metrics.ErrorRate, 0.001)
	assert.NotNil(t, metrics.LastProcessedAt)
	assert.Greater(t, metrics.AverageProcessingTime, time.Duration(0))

	fx.orchestrator.ResetDailyMetrics()
	metrics = fx.orchestrator.GetMetrics()
	assert.Equal(t, int64(0), metrics.EventsProcessedToday)
	assert.Equal(t, int64(2), metrics.TotalEventsProcessed)
}

func TestShutdownDrainsInFlightEvents(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.client.delay = 50 * time.Millisecond

	done := make(chan *Result, 1)
	go func() {
		done <- fx.orchestrator.ProcessEvent(context.Background(), meetingEvent("evt-drain"))
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, fx.orchestrator.Shutdown(context.Background()))
	result := <-done
	assert.True(t, result.Success)
	assert.Empty(t, fx.orchestrator.InFlight())
}

func TestHealthCheck(t *testing.T) {
	fx := newOrchestratorFixture(t)
	assert.True(t, fx.orchestrator.HealthCheck(context.Background()))
}
