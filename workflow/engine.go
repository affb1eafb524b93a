package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/logging"
)

// Engine 工作流引擎
//
// 在状态机之上补充执行记录的持久化：
// 创建 pending 记录后异步驱动 pending→running→(completed|failed)。
type Engine struct {
	definitions IDefinitionStore
	executions  IExecutionStore
	runner      IActionRunner
	logger      logging.Logger

	wg sync.WaitGroup
}

// NewEngine 创建工作流引擎
func NewEngine(definitions IDefinitionStore, executions IExecutionStore, runner IActionRunner) *Engine {
	if runner == nil {
		runner = NoopActionRunner{}
	}
	return &Engine{
		definitions: definitions,
		executions:  executions,
		runner:      runner,
		logger:      logging.Component("workflow.engine"),
	}
}

// ExecuteWorkflow 启动一次工作流执行
//
// 返回的执行记录处于 pending 状态，状态机在后台异步驱动；
// 结果通过 GetExecution 查询。metadata 原样写入执行记录。
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, inputData, variables, metadata map[string]any) (*Execution, error) {
	definition, err := e.definitions.GetDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	execution := &Execution{
		ID:         uuid.NewString(),
		WorkflowID: definition.ID,
		ClientID:   definition.ClientID,
		Status:     ExecutionPending,
		Context: ExecutionContext{
			Variables: variables,
			InputData: inputData,
		},
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
	if err := e.executions.SaveExecution(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "workflow execution created",
		logging.String("workflow_id", workflowID),
		logging.String("execution_id", execution.ID))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runExecution(context.WithoutCancel(ctx), definition, execution)
	}()

	copied := *execution
	return &copied, nil
}

// GetExecution 查询执行记录
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	return e.executions.GetExecution(ctx, executionID)
}

// ListExecutions 按工作流分页查询执行记录
func (e *Engine) ListExecutions(ctx context.Context, workflowID string, page, limit int) ([]Execution, int, error) {
	return e.executions.ListExecutions(ctx, workflowID, page, limit)
}

// CancelExecution 将执行记录标记为 cancelled
//
// 只更新记录状态；已在运行的状态机不会被抢占。
func (e *Engine) CancelExecution(ctx context.Context, executionID string) error {
	execution, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	execution.Status = ExecutionCancelled
	now := time.Now()
	execution.CompletedAt = &now
	return e.executions.UpdateExecution(ctx, execution)
}

// Wait 等待所有在途执行结束，用于优雅停机与测试
func (e *Engine) Wait() {
	e.wg.Wait()
}

// HealthCheck 检查定义存储可用性
func (e *Engine) HealthCheck(ctx context.Context) bool {
	_, err := e.definitions.ListActiveDefinitions(ctx)
	return err == nil
}

func (e *Engine) runExecution(ctx context.Context, definition *Definition, execution *Execution) {
	execution.Status = ExecutionRunning
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error(ctx, "failed to mark execution running",
			logging.String("execution_id", execution.ID), logging.Error(err))
	}

	machine := NewStateMachine(definition, &execution.Context, e.runner)
	runErr := machine.Run(ctx)

	now := time.Now()
	execution.CompletedAt = &now
	execution.CurrentState = machine.CurrentState()
	if runErr != nil {
		execution.Status = ExecutionFailed
		execution.Error = runErr.Error()
		e.logger.Error(ctx, "workflow execution failed",
			logging.String("workflow_id", definition.ID),
			logging.String("execution_id", execution.ID),
			logging.Error(runErr))
	} else {
		execution.Status = ExecutionCompleted
		e.logger.Info(ctx, "workflow execution completed",
			logging.String("workflow_id", definition.ID),
			logging.String("execution_id", execution.ID))
	}

	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error(ctx, "failed to persist execution result",
			logging.String("execution_id", execution.ID), logging.Error(err))
	}
}
