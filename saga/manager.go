package saga

import (
	"context"
	"time"

	"conductor/errors"
	"conductor/logging"
	"conductor/retry"
)

// IActionExecutor 动作执行边界
//
// 正向动作与补偿动作都通过此接口派发到外部服务。
type IActionExecutor interface {
	Execute(ctx context.Context, action string, saga *Saga) (map[string]any, error)
}

// ActionExecutorFunc 函数式动作执行器适配
type ActionExecutorFunc func(ctx context.Context, action string, saga *Saga) (map[string]any, error)

// Execute 实现 IActionExecutor
func (f ActionExecutorFunc) Execute(ctx context.Context, action string, saga *Saga) (map[string]any, error) {
	return f(ctx, action, saga)
}

// Manager Saga 管理器
//
// 步骤严格顺序执行，同一时刻最多一个步骤处于 running。
// 步骤失败时对已完成步骤按逆序执行补偿。
//
// 注意：无论定义声明哪种补偿策略，步骤失败一律走逆序补偿。
// 前向恢复与混合恢复仅作为模板属性保留，尚未区分实现。
type Manager struct {
	store    ISagaStore
	executor IActionExecutor
	logger   logging.Logger
}

// NewManager 创建 Saga 管理器
func NewManager(store ISagaStore, executor IActionExecutor) *Manager {
	return &Manager{
		store:    store,
		executor: executor,
		logger:   logging.Component("saga.manager"),
	}
}

// StartSaga 从模板实例化并启动 Saga
//
// 实例化后立即开始执行第一个步骤。
func (m *Manager) StartSaga(ctx context.Context, definition *Definition, correlationID, userID string, metadata map[string]any) (*Saga, error) {
	if definition == nil || len(definition.Steps) == 0 {
		return nil, errors.NewValidation("saga definition has no steps")
	}

	saga := definition.Materialize(correlationID, userID, metadata)
	if err := m.store.Save(ctx, saga); err != nil {
		m.logger.Error(ctx, "failed to start saga",
			logging.String("saga_id", saga.ID),
			logging.String("name", definition.Name),
			logging.Error(err))
		return nil, err
	}

	m.logger.Info(ctx, "saga started",
		logging.String("saga_id", saga.ID),
		logging.String("name", saga.Name),
		logging.String("correlation_id", correlationID),
		logging.Int("step_count", len(saga.Steps)))

	if err := m.ExecuteStep(ctx, saga.ID, saga.Steps[0].ID); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, saga.ID)
}

// ExecuteStep 执行指定步骤
//
// 步骤不处于 pending、或其依赖步骤未全部 completed 时，
// 记录警告并直接返回。步骤成功后推进索引并继续执行后续
// 待执行步骤，直到 Saga 完成或遇到失败。
func (m *Manager) ExecuteStep(ctx context.Context, sagaID, stepID string) error {
	// 迭代推进，避免按步骤数递归加深调用栈
	for {
		saga, err := m.store.Get(ctx, sagaID)
		if err != nil {
			return err
		}

		step := saga.StepByID(stepID)
		if step == nil {
			return errors.NewNotFound("saga step not found: %s", stepID)
		}

		if step.Status != StepPending {
			m.logger.Warn(ctx, "step already executed or in progress",
				logging.String("saga_id", sagaID),
				logging.String("step_id", stepID),
				logging.String("status", string(step.Status)))
			return nil
		}

		if unmet := m.unmetDependencies(saga, step); len(unmet) > 0 {
			m.logger.Warn(ctx, "step dependencies not met",
				logging.String("saga_id", sagaID),
				logging.String("step_id", stepID),
				logging.Any("incomplete", unmet))
			return nil
		}

		now := time.Now()
		step.Status = StepRunning
		step.StartedAt = &now
		if err := m.store.Update(ctx, saga); err != nil {
			return err
		}

		m.logger.Info(ctx, "executing saga step",
			logging.String("saga_id", sagaID),
			logging.String("step_id", stepID),
			logging.String("step_name", step.Name),
			logging.String("action", step.Action))

		result, actionErr := m.runAction(ctx, step, saga)
		if actionErr != nil {
			failedAt := time.Now()
			step.Status = StepFailed
			step.FailedAt = &failedAt
			step.Error = actionErr.Error()
			if err := m.store.Update(ctx, saga); err != nil {
				return err
			}

			m.logger.Error(ctx, "saga step failed",
				logging.String("saga_id", sagaID),
				logging.String("step_name", step.Name),
				logging.Error(actionErr))

			return m.CompensateSaga(ctx, sagaID)
		}

		completedAt := time.Now()
		step.Status = StepCompleted
		step.CompletedAt = &completedAt
		step.Result = result

		saga.CurrentStepIndex++
		if saga.CurrentStepIndex >= len(saga.Steps) {
			saga.Status = StatusCompleted
			saga.CompletedAt = &completedAt
		}
		if err := m.store.Update(ctx, saga); err != nil {
			return err
		}

		m.logger.Info(ctx, "saga step completed",
			logging.String("saga_id", sagaID),
			logging.String("step_name", step.Name))

		if saga.CurrentStepIndex >= len(saga.Steps) {
			return nil
		}
		stepID = saga.Steps[saga.CurrentStepIndex].ID
	}
}

// CompensateSaga 对已完成步骤执行逆序补偿
//
// 单个补偿失败只记录日志，不会阻断其余补偿。
func (m *Manager) CompensateSaga(ctx context.Context, sagaID string) error {
	saga, err := m.store.Get(ctx, sagaID)
	if err != nil {
		return err
	}

	saga.Status = StatusCompensating
	if err := m.store.Update(ctx, saga); err != nil {
		return err
	}

	m.logger.Info(ctx, "starting saga compensation",
		logging.String("saga_id", sagaID),
		logging.String("name", saga.Name))

	for i := len(saga.Steps) - 1; i >= 0; i-- {
		step := &saga.Steps[i]
		if step.Status != StepCompleted || step.Compensation == "" {
			continue
		}
		if _, compErr := m.executor.Execute(ctx, step.Compensation, saga); compErr != nil {
			m.logger.Error(ctx, "step compensation failed",
				logging.String("saga_id", sagaID),
				logging.String("step_name", step.Name),
				logging.Error(compErr))
			continue
		}
		step.Status = StepCompensated
		m.logger.Info(ctx, "step compensation completed",
			logging.String("saga_id", sagaID),
			logging.String("step_name", step.Name))
	}

	saga.Status = StatusCompensated
	if err := m.store.Update(ctx, saga); err != nil {
		return err
	}

	m.logger.Info(ctx, "saga compensation completed",
		logging.String("saga_id", sagaID),
		logging.String("name", saga.Name))
	return nil
}

// GetSaga 按 ID 查询
func (m *Manager) GetSaga(ctx context.Context, sagaID string) (*Saga, error) {
	return m.store.Get(ctx, sagaID)
}

// GetSagasByCorrelation 按关联 ID 查询
func (m *Manager) GetSagasByCorrelation(ctx context.Context, correlationID string) ([]Saga, error) {
	return m.store.GetByCorrelation(ctx, correlationID)
}

// GetSagasByStatus 按状态查询
func (m *Manager) GetSagasByStatus(ctx context.Context, status Status) ([]Saga, error) {
	return m.store.GetByStatus(ctx, status)
}

// runAction 按步骤重试策略派发正向动作
func (m *Manager) runAction(ctx context.Context, step *Step, saga *Saga) (map[string]any, error) {
	runCtx := ctx
	if step.TimeoutMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	cfg := retry.DefaultConfig()
	if step.RetryPolicy != nil {
		cfg = retry.Config{
			MaxAttempts:   step.RetryPolicy.MaxRetries + 1,
			InitialDelay:  time.Duration(step.RetryPolicy.BackoffMs) * time.Millisecond,
			BackoffFactor: step.RetryPolicy.BackoffMultiplier,
		}
	}

	var result map[string]any
	err := retry.Do(runCtx, func(ctx context.Context) error {
		r, execErr := m.executor.Execute(ctx, step.Action, saga)
		if execErr != nil {
			return execErr
		}
		result = r
		return nil
	}, cfg)
	return result, err
}

func (m *Manager) unmetDependencies(saga *Saga, step *Step) []string {
	var unmet []string
	for _, name := range step.DependsOn {
		dep := saga.StepByName(name)
		if dep == nil || dep.Status != StepCompleted {
			unmet = append(unmet, name)
		}
	}
	return unmet
}
