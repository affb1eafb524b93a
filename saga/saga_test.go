package saga

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor 记录动作调用顺序，并按配置失败
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	results map[string]map[string]any
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		failOn:  make(map[string]error),
		results: make(map[string]map[string]any),
	}
}

func (e *recordingExecutor) Execute(ctx context.Context, action string, saga *Saga) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, action)
	if err, ok := e.failOn[action]; ok {
		return nil, err
	}
	if r, ok := e.results[action]; ok {
		return r, nil
	}
	return map[string]any{"action": action}, nil
}

func (e *recordingExecutor) callList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func simpleDefinition() *Definition {
	return &Definition{
		Name:                 "Order Fulfillment",
		CompensationStrategy: BackwardRecovery,
		Steps: []StepDefinition{
			{Name: "Reserve Stock", Action: "stock.reserve", Compensation: "stock.release"},
			{Name: "Charge Payment", Action: "payment.charge", Compensation: "payment.refund", DependsOn: []string{"Reserve Stock"}},
			{Name: "Ship Order", Action: "order.ship", DependsOn: []string{"Charge Payment"}},
		},
	}
}

func TestStartSagaRunsAllSteps(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySagaStore()
	executor := newRecordingExecutor()
	manager := NewManager(store, executor)

	saga, err := manager.StartSaga(ctx, simpleDefinition(), "corr-1", "user-1", map[string]any{"order_id": "o-1"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, saga.Status)
	assert.Equal(t, 3, saga.CurrentStepIndex)
	assert.NotNil(t, saga.CompletedAt)
	assert.Equal(t, []string{"stock.reserve", "payment.charge", "order.ship"}, executor.callList())
	for _, step := range saga.Steps {
		assert.Equal(t, StepCompleted, step.Status)
		assert.NotNil(t, step.CompletedAt)
		assert.NotEmpty(t, step.Result)
	}
}

func TestStartSagaMaterializesFreshStepIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySagaStore()
	manager := NewManager(store, newRecordingExecutor())

	first, err := manager.StartSaga(ctx, simpleDefinition(), "corr-1", "user-1", nil)
	require.NoError(t, err)
	second, err := manager.StartSaga(ctx, simpleDefinition(), "corr-1", "user-1", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	for i := range first.Steps {
		assert.NotEmpty(t, first.Steps[i].ID)
		assert.NotEqual(t, first.Steps[i].ID, second.Steps[i].ID)
	}
}

func TestStepFailureCompensatesInReverseOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySagaStore()
	executor := newRecordingExecutor()
	executor.failOn["order.ship"] = fmt.Errorf("carrier unavailable")
	manager := NewManager(store, executor)

	saga, err := manager.StartSaga(ctx, simpleDefinition(), "corr-1", "user-1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompensated, saga.Status)
	assert.Equal(t, []string{
		"stock.reserve", "payment.charge", "order.ship",
		"payment.refund", "stock.release",
	}, executor.callList())

	failed := saga.StepByName("Ship Order")
	require.NotNil(t, failed)
	assert.Equal(t, StepFailed, failed.Status)
	assert.Equal(t, "carrier unavailable", failed.Error)
	assert.NotNil(t, failed.FailedAt)

	assert.Equal(t, StepCompensated, saga.StepByName("Reserve Stock").Status)
	assert.Equal(t, StepCompensated, saga.StepByName("Charge Payment").Status)
}

func TestCompensationFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySagaStore()
	executor := newRecordingExecutor()
	executor.failOn["order.ship"] = fmt.Errorf("boom")
	executor.failOn["payment.refund"] = fmt.Errorf("refund rejected")
	manager := NewManager(store, executor)

	saga, err := manager.StartSaga(ctx, simpleDefinition(), "corr-1", "user-1", nil)
	require.NoError(t, err)

	// 退款补偿失败被跳过，库存补偿仍然执行
	assert.Equal(t, StatusCompensated, saga.Status)
	assert.Equal(t, StepCompleted, saga.StepByName("Charge Payment").Status)
	assert.Equal(t, StepCompensated, saga.StepByName("Reserve Stock").Status)
	assert.Contains(t, executor.callList(), "stock.release")
}

func TestExecuteStepNoOpWhenNotPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySagaStore()
	executor := newRecordingExecutor()
	manager := NewManager(store, executor)

	saga, err := manager.StartSaga(ctx, simpleDefinition(), "corr-1", "user-1", nil)
	require.NoError(t, err)
	callsAfterRun := len(executor.callList())

	// 已完成的步骤再次执行不产生任何动作
	err = manager.ExecuteStep(ctx, saga.ID, saga.Steps[0].ID)
	require.NoError(t, err)
	assert.Len(t, executor.callList(), callsAfterRun)
}

func TestExecuteStepNoOpWhenDependenciesUnmet(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySagaStore()
	executor := newRecordingExecutor()
	manager := NewManager(store, executor)

	saga := simpleDefinition().Materialize("corr-1", "user-1", nil)
	require.NoError(t, store.Save(ctx, saga))

	// 第二步依赖第一步，直接执行应当原地返回
	err := manager.ExecuteStep(ctx, saga.ID, saga.Steps[1].ID)
	require.NoError(t, err)
	assert.Empty(t, executor.callList())

	loaded, err := store.Get(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, StepPending, loaded.Steps[1].Status)
}

func TestStepRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySagaStore()

	var attempts int
	var mu sync.Mutex
	executor := ActionExecutorFunc(func(ctx context.Context, action string, saga *Saga) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		if action == "flaky.call" {
			attempts++
			if attempts < 3 {
				return nil, fmt.Errorf("transient failure")
			}
		}
		return map[string]any{"ok": true}, nil
	})
	manager := NewManager(store, executor)

	def := &Definition{
		Name:                 "Flaky",
		CompensationStrategy: BackwardRecovery,
		Steps: []StepDefinition{
			{
				Name:        "Flaky Call",
				Action:      "flaky.call",
				RetryPolicy: &RetryPolicy{MaxRetries: 3, BackoffMs: 1, BackoffMultiplier: 1},
			},
		},
	}
	saga, err := manager.StartSaga(ctx, def, "corr-1", "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, saga.Status)
	assert.Equal(t, 3, attempts)
}

func TestStartSagaRejectsEmptyDefinition(t *testing.T) {
	manager := NewManager(NewMemorySagaStore(), newRecordingExecutor())
	_, err := manager.StartSaga(context.Background(), &Definition{Name: "Empty"}, "corr", "user", nil)
	assert.Error(t, err)
}

func TestQueriesByCorrelationAndStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySagaStore()
	manager := NewManager(store, newRecordingExecutor())

	_, err := manager.StartSaga(ctx, simpleDefinition(), "corr-a", "user-1", nil)
	require.NoError(t, err)
	_, err = manager.StartSaga(ctx, simpleDefinition(), "corr-a", "user-1", nil)
	require.NoError(t, err)
	_, err = manager.StartSaga(ctx, simpleDefinition(), "corr-b", "user-2", nil)
	require.NoError(t, err)

	byCorr, err := manager.GetSagasByCorrelation(ctx, "corr-a")
	require.NoError(t, err)
	assert.Len(t, byCorr, 2)

	completed, err := manager.GetSagasByStatus(ctx, StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 3)
}

func TestBuiltinDefinitions(t *testing.T) {
	def, err := BuiltinDefinition(DefClientOnboarding)
	require.NoError(t, err)
	assert.Equal(t, "Client Onboarding", def.Name)
	assert.Equal(t, BackwardRecovery, def.CompensationStrategy)
	assert.Len(t, def.Steps, 4)
	assert.Equal(t, []string{"Create Client Record"}, def.Steps[1].DependsOn)

	_, err = BuiltinDefinition("no_such_saga")
	assert.Error(t, err)

	assert.Len(t, BuiltinDefinitionNames(), 3)
}
