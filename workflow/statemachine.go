package workflow

import (
	"context"
	"sync"
	"time"

	"conductor/errors"
	"conductor/logging"
	"conductor/retry"
)

// IActionRunner 动作执行边界
//
// 按动作类型派发到外部协作方（HTTP、数据库、邮件等）。
type IActionRunner interface {
	Run(ctx context.Context, action *Action, execCtx *ExecutionContext) (map[string]any, error)
}

// ActionRunnerFunc 函数式动作执行器适配
type ActionRunnerFunc func(ctx context.Context, action *Action, execCtx *ExecutionContext) (map[string]any, error)

// Run 实现 IActionRunner
func (f ActionRunnerFunc) Run(ctx context.Context, action *Action, execCtx *ExecutionContext) (map[string]any, error) {
	return f(ctx, action, execCtx)
}

// NoopActionRunner 空动作执行器，delay 动作照常等待，其余动作直接成功
//
// 用于尚未接入真实协作方的部署与测试。
type NoopActionRunner struct{}

// Run 实现 IActionRunner
func (NoopActionRunner) Run(ctx context.Context, action *Action, execCtx *ExecutionContext) (map[string]any, error) {
	if action.Type == ActionDelay {
		ms, _ := toFloat(action.Config["duration_ms"])
		if ms > 0 {
			if err := retry.Sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
				return nil, err
			}
		}
		return map[string]any{"status": "success", "delayed_for": ms}, nil
	}
	return map[string]any{"status": "success", "action_type": string(action.Type)}, nil
}

// StateMachine 单次工作流执行的状态机
//
// 非并发安全：一次执行由单个 goroutine 驱动，
// 仅 parallel 状态内部会并发执行动作。
type StateMachine struct {
	definition *Definition
	runner     IActionRunner
	logger     logging.Logger

	current      string
	execCtx      *ExecutionContext
	resultsMu    sync.Mutex
	stepLimit    int
	visitedSteps int
}

// NewStateMachine 创建状态机
//
// execCtx 由状态机独占，状态历史与动作结果直接写入其中。
func NewStateMachine(definition *Definition, execCtx *ExecutionContext, runner IActionRunner) *StateMachine {
	if runner == nil {
		runner = NoopActionRunner{}
	}
	return &StateMachine{
		definition: definition,
		runner:     runner,
		logger:     logging.Component("workflow.statemachine"),
		execCtx:    execCtx,
		stepLimit:  10000,
	}
}

// Start 定位唯一的 start 状态并进入
func (sm *StateMachine) Start(ctx context.Context) error {
	startState := sm.definition.StartState()
	if startState == nil {
		return errors.NewStateMachine("no start state found in workflow definition")
	}
	sm.current = startState.ID
	if err := sm.enterState(ctx, startState); err != nil {
		return err
	}
	sm.logger.Info(ctx, "state machine started",
		logging.String("workflow_id", sm.definition.ID),
		logging.String("start_state", startState.ID))
	return nil
}

// ExecuteCurrentState 执行当前状态的动作列表
func (sm *StateMachine) ExecuteCurrentState(ctx context.Context) error {
	if sm.current == "" {
		return errors.NewStateMachine("no current state to execute")
	}
	state := sm.definition.StateByID(sm.current)
	if state == nil {
		return errors.NewStateMachine("state not found: %s", sm.current)
	}
	if state.Type == StateTask {
		return sm.runActionsSequential(ctx, state)
	}
	return nil
}

// Transition 从当前状态尝试转移
//
// 取第一条事件匹配且守卫成立的转移；没有可用转移时返回 false。
func (sm *StateMachine) Transition(ctx context.Context, event string) (bool, error) {
	if sm.current == "" {
		return false, errors.NewStateMachine("no current state to transition from")
	}
	for _, transition := range sm.definition.TransitionsFrom(sm.current) {
		if transition.Event != "" && transition.Event != event {
			continue
		}
		if transition.Condition != nil && !transition.Condition.Evaluate(sm.execCtx.Document()) {
			continue
		}
		next := sm.definition.StateByID(transition.ToState)
		if next == nil {
			return false, errors.NewStateMachine("next state not found: %s", transition.ToState)
		}
		sm.exitCurrentState()
		sm.current = transition.ToState
		if err := sm.enterState(ctx, next); err != nil {
			return false, err
		}
		sm.logger.Info(ctx, "state transition completed",
			logging.String("workflow_id", sm.definition.ID),
			logging.String("from_state", transition.FromState),
			logging.String("to_state", transition.ToState))
		return true, nil
	}
	return false, nil
}

// IsComplete 当前状态为 end 时执行完成
func (sm *StateMachine) IsComplete() bool {
	if sm.current == "" {
		return false
	}
	state := sm.definition.StateByID(sm.current)
	return state != nil && state.Type == StateEnd
}

// CurrentState 返回当前状态 ID
func (sm *StateMachine) CurrentState() string {
	return sm.current
}

// Context 返回执行上下文
func (sm *StateMachine) Context() *ExecutionContext {
	return sm.execCtx
}

// Run 驱动状态机直到完成
//
// 循环 ExecuteCurrentState + Transition；既无转移可走又未到达
// end 状态时视为定义缺陷并报错。步数上限防御环路定义。
func (sm *StateMachine) Run(ctx context.Context) error {
	if err := sm.Start(ctx); err != nil {
		return err
	}
	for !sm.IsComplete() {
		if sm.visitedSteps++; sm.visitedSteps > sm.stepLimit {
			return errors.NewStateMachine("workflow %s exceeded %d state visits", sm.definition.ID, sm.stepLimit)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sm.ExecuteCurrentState(ctx); err != nil {
			return err
		}
		if sm.IsComplete() {
			break
		}
		moved, err := sm.Transition(ctx, "")
		if err != nil {
			return err
		}
		if !moved {
			return errors.NewStateMachine("workflow %s stuck at state %s with no matching transition", sm.definition.ID, sm.current)
		}
	}
	return nil
}

func (sm *StateMachine) enterState(ctx context.Context, state *State) error {
	record := StateExecution{
		StateID:   state.ID,
		StateName: state.Name,
		Status:    "running",
		EnteredAt: time.Now(),
	}
	sm.execCtx.StateHistory = append(sm.execCtx.StateHistory, record)

	sm.logger.Debug(ctx, "entered state",
		logging.String("workflow_id", sm.definition.ID),
		logging.String("state_id", state.ID),
		logging.String("state_type", string(state.Type)))

	switch state.Type {
	case StateStart:
		return nil
	case StateEnd:
		last := &sm.execCtx.StateHistory[len(sm.execCtx.StateHistory)-1]
		now := time.Now()
		last.Status = "completed"
		last.ExitedAt = &now
		return nil
	case StateTask:
		// 动作在 ExecuteCurrentState 阶段执行
		return nil
	case StateDecision:
		return sm.executeDecision(ctx, state)
	case StateParallel:
		return sm.runActionsParallel(ctx, state)
	case StateWait:
		waitMs := state.TimeoutMs
		if waitMs <= 0 {
			waitMs = 1000
		}
		return retry.Sleep(ctx, time.Duration(waitMs)*time.Millisecond)
	case StateSubworkflow:
		// 嵌套工作流作为扩展点，当前仅记录
		sm.logger.Info(ctx, "subworkflow state entered",
			logging.String("workflow_id", sm.definition.ID),
			logging.String("state_id", state.ID),
			logging.String("subworkflow_id", state.SubworkflowID))
		return nil
	default:
		return errors.NewStateMachine("state %s has unknown type %q", state.ID, state.Type)
	}
}

func (sm *StateMachine) exitCurrentState() {
	for i := len(sm.execCtx.StateHistory) - 1; i >= 0; i-- {
		record := &sm.execCtx.StateHistory[i]
		if record.StateID == sm.current && record.ExitedAt == nil {
			now := time.Now()
			record.ExitedAt = &now
			record.Status = "completed"
			return
		}
	}
}

// executeDecision 按序评估分支条件并转移到命中目标
func (sm *StateMachine) executeDecision(ctx context.Context, state *State) error {
	doc := sm.execCtx.Document()
	for _, cond := range state.Conditions {
		target := cond.OnFalse
		if cond.FieldCondition.Evaluate(doc) {
			target = cond.OnTrue
		}
		if target == "" {
			continue
		}
		next := sm.definition.StateByID(target)
		if next == nil {
			return errors.NewStateMachine("state not found: %s", target)
		}
		sm.exitCurrentState()
		sm.current = target
		return sm.enterState(ctx, next)
	}
	return nil
}

func (sm *StateMachine) runActionsSequential(ctx context.Context, state *State) error {
	for i := range state.Actions {
		if err := sm.executeAction(ctx, &state.Actions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (sm *StateMachine) runActionsParallel(ctx context.Context, state *State) error {
	if len(state.Actions) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	errs := make([]error, len(state.Actions))
	for i := range state.Actions {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = sm.executeAction(ctx, &state.Actions[idx])
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// executeAction 执行单个动作并记录结果
//
// 带重试策略的动作失败后原地重试：第 n 次重试前等待
// backoffMs * multiplier^(n-1)，上限 maxBackoffMs（默认 30s）。
func (sm *StateMachine) executeAction(ctx context.Context, action *Action) error {
	result := ActionResult{
		ActionID:   action.ID,
		ActionName: action.Name,
		Status:     "running",
		StartedAt:  time.Now(),
	}

	maxRetries := 0
	if action.RetryPolicy != nil {
		maxRetries = action.RetryPolicy.MaxRetries
	}

	var lastErr error
	for {
		output, err := sm.runner.Run(ctx, action, sm.execCtx)
		if err == nil {
			now := time.Now()
			result.Status = "completed"
			result.CompletedAt = &now
			result.Result = output
			sm.appendActionResult(result)
			return nil
		}
		lastErr = err

		sm.logger.Error(ctx, "action execution failed",
			logging.String("workflow_id", sm.definition.ID),
			logging.String("action_id", action.ID),
			logging.Int("retry_count", result.RetryCount),
			logging.Error(err))

		if result.RetryCount >= maxRetries {
			break
		}
		result.RetryCount++
		delay := actionBackoff(action.RetryPolicy, result.RetryCount)
		sm.logger.Info(ctx, "retrying action",
			logging.String("action_id", action.ID),
			logging.Int("retry_count", result.RetryCount),
			logging.Duration("delay", delay))
		if err := retry.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		result.StartedAt = time.Now()
	}

	now := time.Now()
	result.Status = "failed"
	result.CompletedAt = &now
	result.Error = lastErr.Error()
	sm.appendActionResult(result)
	return errors.Wrap(lastErr, errors.ErrCodeExecution, "action "+action.ID+" failed")
}

func (sm *StateMachine) appendActionResult(result ActionResult) {
	sm.resultsMu.Lock()
	sm.execCtx.ActionResults = append(sm.execCtx.ActionResults, result)
	sm.resultsMu.Unlock()
}

func actionBackoff(policy *RetryPolicy, retryCount int) time.Duration {
	if policy == nil {
		return 0
	}
	delay := float64(policy.BackoffMs)
	for i := 1; i < retryCount; i++ {
		delay *= policy.BackoffMultiplier
	}
	maxMs := policy.MaxBackoffMs
	if maxMs <= 0 {
		maxMs = 30000
	}
	if delay > float64(maxMs) {
		delay = float64(maxMs)
	}
	return time.Duration(delay) * time.Millisecond
}
