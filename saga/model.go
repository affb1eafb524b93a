// Package saga 提供 Saga 编排：多步骤跨服务事务与补偿回滚
//
// Saga 由定义模板实例化而来，步骤严格顺序执行，
// 任一步骤失败后按完成步骤的逆序执行补偿动作。
package saga

import (
	"time"

	"github.com/google/uuid"
)

// Status Saga 整体状态
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// StepStatus 步骤状态
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepRunning     StepStatus = "running"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepCompensated StepStatus = "compensated"
)

// CompensationStrategy 补偿策略
type CompensationStrategy string

const (
	ForwardRecovery  CompensationStrategy = "forward_recovery"
	BackwardRecovery CompensationStrategy = "backward_recovery"
	MixedRecovery    CompensationStrategy = "mixed_recovery"
)

// RetryPolicy 步骤重试策略
//
// 退避时长为 BackoffMs * BackoffMultiplier^(n-1)，n 从 1 开始。
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BackoffMs         int     `json:"backoff_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// Step Saga 步骤实例
//
// 不变式：只有 DependsOn 指向的步骤全部 completed 后才能进入 running。
type Step struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Action       string         `json:"action"`
	Compensation string         `json:"compensation,omitempty"`
	TimeoutMs    int            `json:"timeout_ms,omitempty"`
	RetryPolicy  *RetryPolicy   `json:"retry_policy,omitempty"`
	Status       StepStatus     `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	FailedAt     *time.Time     `json:"failed_at,omitempty"`
	Error        string         `json:"error,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty"`
}

// Saga 运行中的 Saga 实例
//
// Saga 独占其步骤，步骤不会脱离所属 Saga 存在。
type Saga struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Status           Status         `json:"status"`
	Steps            []Step         `json:"steps"`
	CurrentStepIndex int            `json:"current_step_index"`
	CorrelationID    string         `json:"correlation_id"`
	UserID           string         `json:"user_id"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	FailedAt         *time.Time     `json:"failed_at,omitempty"`
	Error            string         `json:"error,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// StepByID 按步骤 ID 查找，找不到返回 nil
func (s *Saga) StepByID(stepID string) *Step {
	for i := range s.Steps {
		if s.Steps[i].ID == stepID {
			return &s.Steps[i]
		}
	}
	return nil
}

// StepByName 按步骤名称查找，找不到返回 nil
func (s *Saga) StepByName(name string) *Step {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			return &s.Steps[i]
		}
	}
	return nil
}

// StepDefinition Saga 步骤模板
type StepDefinition struct {
	Name         string       `json:"name"`
	Action       string       `json:"action"`
	Compensation string       `json:"compensation,omitempty"`
	TimeoutMs    int          `json:"timeout_ms,omitempty"`
	RetryPolicy  *RetryPolicy `json:"retry_policy,omitempty"`
	DependsOn    []string     `json:"depends_on,omitempty"`
}

// Definition Saga 模板
//
// 实例化时为每个步骤生成新的 uuid。
type Definition struct {
	Name                 string               `json:"name"`
	Steps                []StepDefinition     `json:"steps"`
	CompensationStrategy CompensationStrategy `json:"compensation_strategy"`
}

// Materialize 从模板实例化 Saga
func (d *Definition) Materialize(correlationID, userID string, metadata map[string]any) *Saga {
	steps := make([]Step, 0, len(d.Steps))
	for _, stepDef := range d.Steps {
		steps = append(steps, Step{
			ID:           uuid.NewString(),
			Name:         stepDef.Name,
			Action:       stepDef.Action,
			Compensation: stepDef.Compensation,
			TimeoutMs:    stepDef.TimeoutMs,
			RetryPolicy:  stepDef.RetryPolicy,
			DependsOn:    stepDef.DependsOn,
			Status:       StepPending,
		})
	}
	return &Saga{
		ID:               uuid.NewString(),
		Name:             d.Name,
		Status:           StatusRunning,
		Steps:            steps,
		CurrentStepIndex: 0,
		CorrelationID:    correlationID,
		UserID:           userID,
		StartedAt:        time.Now(),
		Metadata:         metadata,
	}
}
