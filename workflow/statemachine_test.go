package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRunner 记录动作执行次数，可按动作 ID 注入失败
type countingRunner struct {
	mu       sync.Mutex
	runs     map[string]int
	failures map[string]int // 动作前 N 次调用失败
}

func newCountingRunner() *countingRunner {
	return &countingRunner{runs: make(map[string]int), failures: make(map[string]int)}
}

func (r *countingRunner) Run(ctx context.Context, action *Action, execCtx *ExecutionContext) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[action.ID]++
	if remaining := r.failures[action.ID]; remaining > 0 {
		r.failures[action.ID]--
		return nil, fmt.Errorf("action %s unavailable", action.ID)
	}
	return map[string]any{"done": action.ID}, nil
}

func (r *countingRunner) count(actionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[actionID]
}

func runMachine(t *testing.T, def *Definition, runner IActionRunner, input map[string]any) (*StateMachine, error) {
	t.Helper()
	require.NoError(t, def.Validate())
	execCtx := &ExecutionContext{InputData: input, Variables: map[string]any{}}
	machine := NewStateMachine(def, execCtx, runner)
	return machine, machine.Run(context.Background())
}

func TestRunLinearWorkflowRecordsHistory(t *testing.T) {
	runner := newCountingRunner()
	machine, err := runMachine(t, linearDefinition(), runner, nil)
	require.NoError(t, err)

	assert.True(t, machine.IsComplete())
	assert.Equal(t, "s-end", machine.CurrentState())
	assert.Equal(t, 1, runner.count("a-1"))

	history := machine.Context().StateHistory
	ids := make([]string, 0, len(history))
	for _, record := range history {
		ids = append(ids, record.StateID)
	}
	assert.Equal(t, []string{"s-start", "s-task", "s-end"}, ids)
	for _, record := range history {
		assert.Equal(t, "completed", record.Status)
		assert.NotNil(t, record.ExitedAt)
	}

	results := machine.Context().ActionResults
	require.Len(t, results, 1)
	assert.Equal(t, "completed", results[0].Status)
	assert.Equal(t, 0, results[0].RetryCount)
}

func TestDecisionStateTakesMatchingBranch(t *testing.T) {
	def := &Definition{
		ID: "wf-decision", ClientID: "client-1", Name: "Decision", Version: 1, Active: true,
		States: []State{
			{ID: "s-start", Type: StateStart},
			{ID: "s-check", Type: StateDecision, Conditions: []DecisionCondition{
				{
					FieldCondition: FieldCondition{Field: "input.amount", Operator: CompGreaterThan, Value: 100},
					OnTrue:         "s-approve",
					OnFalse:        "s-reject",
				},
			}},
			{ID: "s-approve", Type: StateTask, Actions: []Action{{ID: "a-approve", Type: ActionWebhookCall}}},
			{ID: "s-reject", Type: StateTask, Actions: []Action{{ID: "a-reject", Type: ActionEmailSend}}},
			{ID: "s-end", Type: StateEnd},
		},
		Transitions: []Transition{
			{FromState: "s-start", ToState: "s-check"},
			{FromState: "s-approve", ToState: "s-end"},
			{FromState: "s-reject", ToState: "s-end"},
		},
	}

	runner := newCountingRunner()
	machine, err := runMachine(t, def, runner, map[string]any{"amount": float64(250)})
	require.NoError(t, err)
	assert.True(t, machine.IsComplete())
	assert.Equal(t, 1, runner.count("a-approve"))
	assert.Equal(t, 0, runner.count("a-reject"))

	runner = newCountingRunner()
	machine, err = runMachine(t, def, runner, map[string]any{"amount": float64(10)})
	require.NoError(t, err)
	assert.True(t, machine.IsComplete())
	assert.Equal(t, 0, runner.count("a-approve"))
	assert.Equal(t, 1, runner.count("a-reject"))
}

func TestParallelStateRunsAllActions(t *testing.T) {
	def := &Definition{
		ID: "wf-parallel", ClientID: "client-1", Name: "Parallel", Version: 1, Active: true,
		States: []State{
			{ID: "s-start", Type: StateStart},
			{ID: "s-fanout", Type: StateParallel, Actions: []Action{
				{ID: "a-1", Type: ActionHTTPRequest},
				{ID: "a-2", Type: ActionSMSSend},
				{ID: "a-3", Type: ActionDataTransform},
			}},
			{ID: "s-end", Type: StateEnd},
		},
		Transitions: []Transition{
			{FromState: "s-start", ToState: "s-fanout"},
			{FromState: "s-fanout", ToState: "s-end"},
		},
	}

	runner := newCountingRunner()
	machine, err := runMachine(t, def, runner, nil)
	require.NoError(t, err)
	assert.True(t, machine.IsComplete())
	assert.Equal(t, 1, runner.count("a-1"))
	assert.Equal(t, 1, runner.count("a-2"))
	assert.Equal(t, 1, runner.count("a-3"))
	assert.Len(t, machine.Context().ActionResults, 3)
}

func TestActionRetriesInPlace(t *testing.T) {
	def := linearDefinition()
	def.States[1].Actions[0].RetryPolicy = &RetryPolicy{MaxRetries: 2, BackoffMs: 1, BackoffMultiplier: 1}

	runner := newCountingRunner()
	runner.failures["a-1"] = 2
	machine, err := runMachine(t, def, runner, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, runner.count("a-1"))
	results := machine.Context().ActionResults
	require.Len(t, results, 1)
	assert.Equal(t, "completed", results[0].Status)
	assert.Equal(t, 2, results[0].RetryCount)
}

func TestActionFailurePropagatesAfterRetriesExhausted(t *testing.T) {
	def := linearDefinition()
	def.States[1].Actions[0].RetryPolicy = &RetryPolicy{MaxRetries: 1, BackoffMs: 1, BackoffMultiplier: 1}

	runner := newCountingRunner()
	runner.failures["a-1"] = 5
	machine, err := runMachine(t, def, runner, nil)
	require.Error(t, err)

	assert.Equal(t, 2, runner.count("a-1"))
	results := machine.Context().ActionResults
	require.Len(t, results, 1)
	assert.Equal(t, "failed", results[0].Status)
	assert.NotEmpty(t, results[0].Error)
}

func TestTransitionGuardFiltersByEvent(t *testing.T) {
	def := &Definition{
		ID: "wf-event", ClientID: "client-1", Name: "EventGated", Version: 1, Active: true,
		States: []State{
			{ID: "s-start", Type: StateStart},
			{ID: "s-wait", Type: StateTask},
			{ID: "s-end", Type: StateEnd},
		},
		Transitions: []Transition{
			{FromState: "s-start", ToState: "s-wait"},
			{FromState: "s-wait", ToState: "s-end", Event: "approved"},
		},
	}
	require.NoError(t, def.Validate())

	execCtx := &ExecutionContext{InputData: map[string]any{}, Variables: map[string]any{}}
	machine := NewStateMachine(def, execCtx, NoopActionRunner{})
	require.NoError(t, machine.Start(context.Background()))

	moved, err := machine.Transition(context.Background(), "")
	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, "s-wait", machine.CurrentState())

	// 事件名不匹配时不转移
	moved, err = machine.Transition(context.Background(), "rejected")
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = machine.Transition(context.Background(), "approved")
	require.NoError(t, err)
	require.True(t, moved)
	assert.True(t, machine.IsComplete())
}

func TestRunFailsWhenStuckWithoutTransition(t *testing.T) {
	def := &Definition{
		ID: "wf-stuck", ClientID: "client-1", Name: "Stuck", Version: 1, Active: true,
		States: []State{
			{ID: "s-start", Type: StateStart},
			{ID: "s-task", Type: StateTask},
			{ID: "s-end", Type: StateEnd},
		},
		Transitions: []Transition{
			{FromState: "s-start", ToState: "s-task"},
			// s-task 没有出边
		},
	}
	_, err := runMachine(t, def, NoopActionRunner{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matching transition")
}
