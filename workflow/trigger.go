package workflow

import (
	"context"
	"time"

	"conductor/cache"
	"conductor/eventing"
	"conductor/logging"
)

// triggerCacheTTL 事件触发器定义查询的缓存时长
const triggerCacheTTL = 5 * time.Minute

// TriggerResult 单个工作流的触发结果
type TriggerResult struct {
	Success     bool      `json:"success"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
	Error       string    `json:"error,omitempty"`
}

// TriggerStats 触发器统计
type TriggerStats struct {
	TotalWorkflows    int `json:"total_workflows"`
	ActiveWorkflows   int `json:"active_workflows"`
	EventTriggers     int `json:"event_triggers"`
	ScheduledTriggers int `json:"scheduled_triggers"`
	WebhookTriggers   int `json:"webhook_triggers"`
}

// TriggerSystem 事件触发系统
//
// 把领域事件匹配到启用的事件触发器并启动对应工作流。
// 匹配查询按 (eventType, aggregateType) 缓存 5 分钟，
// 定义变更后调用 ClearCache 主动失效。
type TriggerSystem struct {
	definitions IDefinitionStore
	engine      *Engine
	matchCache  *cache.Cache[string, []Definition]
	logger      logging.Logger
}

// NewTriggerSystem 创建触发系统
func NewTriggerSystem(definitions IDefinitionStore, engine *Engine) *TriggerSystem {
	return &TriggerSystem{
		definitions: definitions,
		engine:      engine,
		matchCache: cache.New[string, []Definition](cache.Config{
			Name:    "workflow-triggers",
			MaxSize: 1024,
			TTL:     triggerCacheTTL,
		}),
		logger: logging.Component("workflow.triggers"),
	}
}

// ProcessEvent 用事件触发所有匹配的工作流
//
// 每个工作流的启动互相隔离：单个启动失败只产生一条失败的
// TriggerResult，不影响其余工作流。
func (ts *TriggerSystem) ProcessEvent(ctx context.Context, event *eventing.Event) ([]TriggerResult, error) {
	ts.logger.Info(ctx, "processing event for workflow triggers",
		logging.String("event_id", event.ID),
		logging.String("event_type", event.EventType),
		logging.String("aggregate_id", event.AggregateID))

	matching, err := ts.matchingWorkflows(ctx, event)
	if err != nil {
		return nil, err
	}
	if len(matching) == 0 {
		ts.logger.Debug(ctx, "no matching workflows for event",
			logging.String("event_id", event.ID),
			logging.String("event_type", event.EventType))
		return nil, nil
	}

	results := make([]TriggerResult, 0, len(matching))
	for i := range matching {
		results = append(results, ts.triggerWorkflow(ctx, &matching[i], event))
	}

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	ts.logger.Info(ctx, "event trigger processing completed",
		logging.String("event_id", event.ID),
		logging.Int("workflows_triggered", len(results)),
		logging.Int("successful_triggers", successful))
	return results, nil
}

// ClearCache 清空触发器匹配缓存
func (ts *TriggerSystem) ClearCache() {
	ts.matchCache.Clear()
	ts.logger.Info(context.Background(), "workflow trigger cache cleared")
}

// Stats 统计定义与触发器数量
func (ts *TriggerSystem) Stats(ctx context.Context) (TriggerStats, error) {
	definitions, err := ts.definitions.ListActiveDefinitions(ctx)
	if err != nil {
		return TriggerStats{}, err
	}
	stats := TriggerStats{
		TotalWorkflows:  len(definitions),
		ActiveWorkflows: len(definitions),
	}
	for _, definition := range definitions {
		for _, trigger := range definition.Triggers {
			if !trigger.Enabled {
				continue
			}
			switch trigger.Type {
			case TriggerEvent:
				stats.EventTriggers++
			case TriggerScheduled:
				stats.ScheduledTriggers++
			case TriggerWebhook:
				stats.WebhookTriggers++
			}
		}
	}
	return stats, nil
}

// HealthCheck 检查定义存储可用性
func (ts *TriggerSystem) HealthCheck(ctx context.Context) bool {
	_, err := ts.definitions.ListActiveDefinitions(ctx)
	return err == nil
}

// matchingWorkflows 返回触发器与事件匹配的激活定义
func (ts *TriggerSystem) matchingWorkflows(ctx context.Context, event *eventing.Event) ([]Definition, error) {
	cacheKey := event.EventType + ":" + event.AggregateType + ":" + event.UserID
	if cached, found := ts.matchCache.Get(cacheKey); found {
		return ts.filterByConditions(cached, event), nil
	}

	definitions, err := ts.definitions.ListActiveDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []Definition
	for _, definition := range definitions {
		if ts.hasCandidateTrigger(&definition, event) {
			candidates = append(candidates, definition)
		}
	}
	ts.matchCache.Set(cacheKey, candidates)
	return ts.filterByConditions(candidates, event), nil
}

// hasCandidateTrigger 判断类型层面的匹配（不含字段条件）
//
// 事件触发器需同时满足：启用、事件类型与聚合类型匹配、
// 工作流所属客户等于事件的用户。
func (ts *TriggerSystem) hasCandidateTrigger(definition *Definition, event *eventing.Event) bool {
	for _, trigger := range definition.Triggers {
		if !trigger.Enabled || trigger.Type != TriggerEvent {
			continue
		}
		if trigger.EventType != "" && trigger.EventType != event.EventType {
			continue
		}
		if trigger.AggregateType != "" && trigger.AggregateType != event.AggregateType {
			continue
		}
		if definition.ClientID != event.UserID {
			continue
		}
		return true
	}
	return false
}

// filterByConditions 对候选定义再做字段条件过滤
//
// 字段条件依赖事件负载，不能进缓存，每次事件单独评估。
func (ts *TriggerSystem) filterByConditions(candidates []Definition, event *eventing.Event) []Definition {
	var matched []Definition
	for _, definition := range candidates {
		if ts.conditionsHold(&definition, event) {
			matched = append(matched, definition)
		}
	}
	return matched
}

func (ts *TriggerSystem) conditionsHold(definition *Definition, event *eventing.Event) bool {
	for _, trigger := range definition.Triggers {
		if !trigger.Enabled || trigger.Type != TriggerEvent {
			continue
		}
		if trigger.EventType != "" && trigger.EventType != event.EventType {
			continue
		}
		if trigger.AggregateType != "" && trigger.AggregateType != event.AggregateType {
			continue
		}
		if definition.ClientID != event.UserID {
			continue
		}
		holds := true
		for _, cond := range trigger.Conditions {
			if !cond.Evaluate(event.EventData) {
				holds = false
				break
			}
		}
		if holds {
			return true
		}
	}
	return false
}

// triggerWorkflow 为单个工作流启动执行
func (ts *TriggerSystem) triggerWorkflow(ctx context.Context, definition *Definition, event *eventing.Event) TriggerResult {
	inputData := map[string]any{
		"event": map[string]any{
			"id":             event.ID,
			"type":           event.EventType,
			"aggregate_id":   event.AggregateID,
			"aggregate_type": event.AggregateType,
			"data":           event.EventData,
			"timestamp":      event.Timestamp,
		},
		"trigger": map[string]any{
			"event_id":       event.ID,
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID,
			"user_id":        event.UserID,
			"client_id":      definition.ClientID,
			"correlation_id": event.CorrelationID,
			"causation_id":   event.CausationID,
		},
	}
	variables := map[string]any{"client_id": definition.ClientID}
	metadata := map[string]any{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}

	execution, err := ts.engine.ExecuteWorkflow(ctx, definition.ID, inputData, variables, metadata)
	if err != nil {
		ts.logger.Error(ctx, "failed to trigger workflow",
			logging.String("workflow_id", definition.ID),
			logging.String("event_id", event.ID),
			logging.Error(err))
		return TriggerResult{
			Success:     false,
			WorkflowID:  definition.ID,
			TriggeredAt: time.Now(),
			Error:       err.Error(),
		}
	}

	ts.logger.Info(ctx, "workflow triggered",
		logging.String("workflow_id", definition.ID),
		logging.String("execution_id", execution.ID),
		logging.String("event_id", event.ID))
	return TriggerResult{
		Success:     true,
		WorkflowID:  definition.ID,
		ExecutionID: execution.ID,
		TriggeredAt: time.Now(),
	}
}
