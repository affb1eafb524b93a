// Package workflow 提供工作流定义、状态机执行与事件触发
//
// 工作流定义是一张状态图：唯一的 start 状态、至少一个 end 状态、
// 若干 task/decision/parallel/wait/subworkflow 状态以及状态间的转移。
// 定义在加载时整体校验，未知的条件操作符在此时即被拒绝。
package workflow

import (
	"conductor/errors"
)

// StateType 状态类型
type StateType string

const (
	StateStart       StateType = "start"
	StateEnd         StateType = "end"
	StateTask        StateType = "task"
	StateDecision    StateType = "decision"
	StateParallel    StateType = "parallel"
	StateWait        StateType = "wait"
	StateSubworkflow StateType = "subworkflow"
)

// ActionType 动作类型
type ActionType string

const (
	ActionHTTPRequest    ActionType = "http_request"
	ActionDatabaseQuery  ActionType = "database_query"
	ActionEmailSend      ActionType = "email_send"
	ActionSMSSend        ActionType = "sms_send"
	ActionFileUpload     ActionType = "file_upload"
	ActionDataTransform  ActionType = "data_transform"
	ActionConditionCheck ActionType = "condition_check"
	ActionDelay          ActionType = "delay"
	ActionWebhookCall    ActionType = "webhook_call"
	ActionAIProcess      ActionType = "ai_process"
)

// knownActionTypes 用于加载时校验
var knownActionTypes = map[ActionType]bool{
	ActionHTTPRequest:    true,
	ActionDatabaseQuery:  true,
	ActionEmailSend:      true,
	ActionSMSSend:        true,
	ActionFileUpload:     true,
	ActionDataTransform:  true,
	ActionConditionCheck: true,
	ActionDelay:          true,
	ActionWebhookCall:    true,
	ActionAIProcess:      true,
}

// TriggerType 触发器类型
type TriggerType string

const (
	TriggerEvent     TriggerType = "event"
	TriggerScheduled TriggerType = "scheduled"
	TriggerWebhook   TriggerType = "webhook"
)

// RetryPolicy 动作重试策略
//
// 第 n 次重试前等待 BackoffMs * BackoffMultiplier^(n-1) 毫秒，
// 上限 MaxBackoffMs（0 表示默认 30s）。
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BackoffMs         int     `json:"backoff_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	MaxBackoffMs      int     `json:"max_backoff_ms,omitempty"`
}

// Action 状态内的一个动作
type Action struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        ActionType     `json:"type"`
	Config      map[string]any `json:"config,omitempty"`
	RetryPolicy *RetryPolicy   `json:"retry_policy,omitempty"`
}

// FieldCondition 字段条件：对文档点路径取值后比较
type FieldCondition struct {
	Field    string     `json:"field"`
	Operator Comparator `json:"operator"`
	Value    any        `json:"value,omitempty"`
}

// DecisionCondition 决策状态的分支条件
//
// 条件成立转移到 OnTrue，不成立转移到 OnFalse；
// 目标为空时继续评估下一个条件。
type DecisionCondition struct {
	FieldCondition
	OnTrue  string `json:"on_true,omitempty"`
	OnFalse string `json:"on_false,omitempty"`
}

// State 工作流状态节点
type State struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Type       StateType           `json:"type"`
	Actions    []Action            `json:"actions,omitempty"`
	Conditions []DecisionCondition `json:"conditions,omitempty"`
	TimeoutMs  int                 `json:"timeout_ms,omitempty"`
	// Subworkflow 状态引用的嵌套工作流 ID
	SubworkflowID string `json:"subworkflow_id,omitempty"`
}

// Transition 状态转移
//
// Event 非空时只响应同名事件；Condition 非空时作为守卫条件。
type Transition struct {
	FromState string          `json:"from_state"`
	ToState   string          `json:"to_state"`
	Event     string          `json:"event,omitempty"`
	Condition *FieldCondition `json:"condition,omitempty"`
}

// Trigger 工作流触发器
type Trigger struct {
	Type          TriggerType      `json:"type"`
	Enabled       bool             `json:"enabled"`
	EventType     string           `json:"event_type,omitempty"`
	AggregateType string           `json:"aggregate_type,omitempty"`
	Conditions    []FieldCondition `json:"conditions,omitempty"`
	// Schedule cron 表达式，scheduled 类型使用
	Schedule string `json:"schedule,omitempty"`
}

// Definition 工作流定义
type Definition struct {
	ID          string       `json:"id"`
	ClientID    string       `json:"client_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Version     int          `json:"version"`
	Active      bool         `json:"active"`
	Triggers    []Trigger    `json:"triggers,omitempty"`
	States      []State      `json:"states"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// StateByID 按 ID 查找状态，找不到返回 nil
func (d *Definition) StateByID(stateID string) *State {
	for i := range d.States {
		if d.States[i].ID == stateID {
			return &d.States[i]
		}
	}
	return nil
}

// StartState 返回唯一的 start 状态，找不到返回 nil
func (d *Definition) StartState() *State {
	for i := range d.States {
		if d.States[i].Type == StateStart {
			return &d.States[i]
		}
	}
	return nil
}

// TransitionsFrom 返回从指定状态出发的全部转移
func (d *Definition) TransitionsFrom(stateID string) []Transition {
	var result []Transition
	for _, t := range d.Transitions {
		if t.FromState == stateID {
			result = append(result, t)
		}
	}
	return result
}

// Validate 整体校验定义
//
// 规则：
//   - 恰好一个 start 状态、至少一个 end 状态；
//   - 转移与决策条件引用的状态必须存在；
//   - 动作类型必须已知；
//   - 所有条件操作符在此处解析，未知操作符直接拒绝。
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.NewValidation("workflow name is required")
	}
	if len(d.States) == 0 {
		return errors.NewValidation("workflow %s has no states", d.Name)
	}

	stateIDs := make(map[string]bool, len(d.States))
	startCount := 0
	endCount := 0
	for _, state := range d.States {
		if state.ID == "" {
			return errors.NewValidation("workflow %s has a state without id", d.Name)
		}
		if stateIDs[state.ID] {
			return errors.NewValidation("workflow %s has duplicate state id %s", d.Name, state.ID)
		}
		stateIDs[state.ID] = true
		switch state.Type {
		case StateStart:
			startCount++
		case StateEnd:
			endCount++
		case StateTask, StateDecision, StateParallel, StateWait, StateSubworkflow:
		default:
			return errors.NewValidation("state %s has unknown type %q", state.ID, state.Type)
		}
		for _, action := range state.Actions {
			if !knownActionTypes[action.Type] {
				return errors.NewValidation("action %s has unknown type %q", action.ID, action.Type)
			}
		}
	}
	if startCount != 1 {
		return errors.NewValidation("workflow %s must have exactly one start state, found %d", d.Name, startCount)
	}
	if endCount == 0 {
		return errors.NewValidation("workflow %s must have at least one end state", d.Name)
	}

	for _, transition := range d.Transitions {
		if !stateIDs[transition.FromState] {
			return errors.NewValidation("transition references unknown from_state %s", transition.FromState)
		}
		if !stateIDs[transition.ToState] {
			return errors.NewValidation("transition references unknown to_state %s", transition.ToState)
		}
		if transition.Condition != nil {
			if err := transition.Condition.Operator.Validate(); err != nil {
				return err
			}
		}
	}

	for _, state := range d.States {
		for _, cond := range state.Conditions {
			if err := cond.Operator.Validate(); err != nil {
				return err
			}
			if cond.OnTrue != "" && !stateIDs[cond.OnTrue] {
				return errors.NewValidation("decision condition references unknown state %s", cond.OnTrue)
			}
			if cond.OnFalse != "" && !stateIDs[cond.OnFalse] {
				return errors.NewValidation("decision condition references unknown state %s", cond.OnFalse)
			}
		}
	}

	for _, trigger := range d.Triggers {
		switch trigger.Type {
		case TriggerEvent, TriggerScheduled, TriggerWebhook:
		default:
			return errors.NewValidation("trigger has unknown type %q", trigger.Type)
		}
		for _, cond := range trigger.Conditions {
			if err := cond.Operator.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
