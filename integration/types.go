// Package integration 提供外部集成动作的协调执行
//
// 协调器把一批集成动作并发派发到外部集成服务，
// 对可重试错误做指数退避重试，单个动作的失败不影响其余动作。
package integration

import "time"

// Type 集成类型
type Type string

const (
	TypeSalesforce     Type = "salesforce"
	TypeHubspot        Type = "hubspot"
	TypePipedrive      Type = "pipedrive"
	TypeGoogleCalendar Type = "google_calendar"
	TypeOutlook        Type = "outlook"
	TypeSlack          Type = "slack"
	TypeTeams          Type = "teams"
	TypeAsana          Type = "asana"
	TypeJira           Type = "jira"
)

// ActionType 集成动作类型
type ActionType string

const (
	ActionCreateContact     ActionType = "create_contact"
	ActionUpdateContact     ActionType = "update_contact"
	ActionCreateOpportunity ActionType = "create_opportunity"
	ActionUpdateOpportunity ActionType = "update_opportunity"
	ActionSyncData          ActionType = "sync_data"
	ActionSendNotification  ActionType = "send_notification"
	// ActionCreateTask 项目管理集成的建任务动作
	ActionCreateTask ActionType = "create_task"
)

// Action 一次待执行的集成动作
type Action struct {
	ID              string         `json:"id"`
	Type            ActionType     `json:"type"`
	IntegrationType Type           `json:"integration_type"`
	Config          map[string]any `json:"config,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	RetryCount      int            `json:"retry_count,omitempty"`
	MaxRetries      int            `json:"max_retries,omitempty"`
}

// Result 集成动作执行结果
//
// RetryCount 是实际消耗的重试次数，Duration 为总耗时（含重试等待）。
type Result struct {
	Success         bool           `json:"success"`
	ActionID        string         `json:"action_id"`
	IntegrationType Type           `json:"integration_type"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	Duration        time.Duration  `json:"duration"`
	RetryCount      int            `json:"retry_count"`
}

// Config 客户的集成配置
type Config struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	ClientID    string         `json:"client_id"`
	Type        Type           `json:"type"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Credentials map[string]any `json:"credentials,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	LastSyncAt  *time.Time     `json:"last_sync_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CoordinationContext 一次协调调用的上下文
type CoordinationContext struct {
	WorkflowID    string `json:"workflow_id,omitempty"`
	ExecutionID   string `json:"execution_id,omitempty"`
	ClientID      string `json:"client_id"`
	UserID        string `json:"user_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
}

// Stats 集成配置统计
type Stats struct {
	TotalIntegrations  int            `json:"total_integrations"`
	ActiveIntegrations int            `json:"active_integrations"`
	IntegrationTypes   map[string]int `json:"integration_types"`
}
