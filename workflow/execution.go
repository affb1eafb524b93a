package workflow

import "time"

// ExecutionStatus 执行状态
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// StateExecution 状态进入/退出记录
type StateExecution struct {
	StateID   string     `json:"state_id"`
	StateName string     `json:"state_name"`
	Status    string     `json:"status"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
}

// ActionResult 单个动作的执行结果
type ActionResult struct {
	ActionID    string         `json:"action_id"`
	ActionName  string         `json:"action_name"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ExecutionContext 执行上下文
//
// Lookup 的求值文档结构为 {"input": InputData, "variables": Variables}，
// 决策条件与转移守卫都在这份文档上按点路径取值。
type ExecutionContext struct {
	Variables     map[string]any   `json:"variables,omitempty"`
	InputData     map[string]any   `json:"input_data,omitempty"`
	StateHistory  []StateExecution `json:"state_history,omitempty"`
	ActionResults []ActionResult   `json:"action_results,omitempty"`
}

// Document 返回条件求值用的文档视图
func (c *ExecutionContext) Document() map[string]any {
	return map[string]any{
		"input":     c.InputData,
		"variables": c.Variables,
	}
}

// Execution 工作流执行记录
type Execution struct {
	ID           string           `json:"id"`
	WorkflowID   string           `json:"workflow_id"`
	ClientID     string           `json:"client_id"`
	Status       ExecutionStatus  `json:"status"`
	CurrentState string           `json:"current_state,omitempty"`
	Context      ExecutionContext `json:"context"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Error        string           `json:"error,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}
