package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conductor/eventing"
	"conductor/integration"
	"conductor/logging"
	"conductor/workflow"
)

// Result 单个事件的编排结果
type Result struct {
	EventID                  string                   `json:"event_id"`
	Success                  bool                     `json:"success"`
	WorkflowsTriggered       int                      `json:"workflows_triggered"`
	IntegrationActions       int                      `json:"integration_actions"`
	IntegrationActionsFailed int                      `json:"integration_actions_failed"`
	WorkflowResults          []workflow.TriggerResult `json:"workflow_results,omitempty"`
	IntegrationResults       []integration.Result     `json:"integration_results,omitempty"`
	Errors                   []string                 `json:"errors,omitempty"`
	Duration                 time.Duration            `json:"duration"`
}

type inflightEntry struct {
	done   chan struct{}
	result *Result
}

// Orchestrator 事件驱动编排器
//
// 对同一事件的并发处理请求去重：后到的调用等待首个调用完成并共享其结果。
// 处理管线为 触发工作流 -> 派生集成动作 -> 协调集成 -> 更新处理状态。
type Orchestrator struct {
	triggers    *workflow.TriggerSystem
	coordinator *integration.Coordinator
	statuses    IStatusStore
	metrics     *metricsTracker
	logger      logging.Logger

	mu       sync.Mutex
	inflight map[string]*inflightEntry
}

// NewOrchestrator 创建事件编排器
func NewOrchestrator(triggers *workflow.TriggerSystem, coordinator *integration.Coordinator, statuses IStatusStore) *Orchestrator {
	return &Orchestrator{
		triggers:    triggers,
		coordinator: coordinator,
		statuses:    statuses,
		metrics:     &metricsTracker{},
		logger:      logging.Component("orchestration.orchestrator"),
		inflight:    make(map[string]*inflightEntry),
	}
}

// ProcessEvent 处理一个领域事件
//
// 同一事件 ID 的并发调用共享同一个结果。管线内部的异常不向上抛出：
// 失败以 Success=false 与 Errors 的形式体现在返回值中。
func (o *Orchestrator) ProcessEvent(ctx context.Context, event *eventing.Event) *Result {
	o.mu.Lock()
	if entry, ok := o.inflight[event.ID]; ok {
		o.mu.Unlock()
		o.logger.Info(ctx, "event already being processed, awaiting shared result",
			logging.String("event_id", event.ID))
		select {
		case <-entry.done:
			return entry.result
		case <-ctx.Done():
			return &Result{
				EventID: event.ID,
				Errors:  []string{ctx.Err().Error()},
			}
		}
	}
	entry := &inflightEntry{done: make(chan struct{})}
	o.inflight[event.ID] = entry
	o.mu.Unlock()

	start := time.Now()
	result := o.runPipeline(ctx, event)
	result.Duration = time.Since(start)
	o.metrics.Record(result.Success, result.Duration)

	entry.result = result
	close(entry.done)

	o.mu.Lock()
	delete(o.inflight, event.ID)
	o.mu.Unlock()
	return result
}

func (o *Orchestrator) runPipeline(ctx context.Context, event *eventing.Event) *Result {
	result := &Result{EventID: event.ID}
	o.logger.Info(ctx, "orchestrating event",
		logging.String("event_id", event.ID),
		logging.String("event_type", event.EventType),
		logging.String("aggregate_id", event.AggregateID))

	o.upsertStatus(ctx, event.ID, StateProcessing, "")

	workflowResults, err := o.triggers.ProcessEvent(ctx, event)
	if err != nil {
		o.logger.Error(ctx, "workflow trigger processing failed",
			logging.String("event_id", event.ID), logging.Error(err))
		result.Errors = append(result.Errors, err.Error())
		o.upsertStatus(ctx, event.ID, StateFailed, err.Error())
		return result
	}
	result.WorkflowResults = workflowResults
	result.WorkflowsTriggered = len(workflowResults)

	actions := deriveIntegrationActions(event, workflowResults)
	result.IntegrationActions = len(actions)

	if len(actions) > 0 {
		coordCtx := integration.CoordinationContext{
			ClientID:      event.UserID,
			UserID:        event.UserID,
			CorrelationID: event.CorrelationID,
			CausationID:   event.ID,
		}
		integrationResults := o.coordinator.Coordinate(ctx, actions, coordCtx)
		result.IntegrationResults = integrationResults
		for _, r := range integrationResults {
			if !r.Success {
				result.IntegrationActionsFailed++
				result.Errors = append(result.Errors,
					fmt.Sprintf("integration action %s failed: %s", r.ActionID, r.Error))
			}
		}
	}

	result.Success = result.IntegrationActionsFailed == 0
	if result.Success {
		o.upsertStatus(ctx, event.ID, StateCompleted, "")
	} else {
		o.upsertStatus(ctx, event.ID, StateFailed,
			fmt.Sprintf("%d integration actions failed", result.IntegrationActionsFailed))
	}

	o.logger.Info(ctx, "event orchestration finished",
		logging.String("event_id", event.ID),
		logging.Bool("success", result.Success),
		logging.Int("workflows_triggered", result.WorkflowsTriggered),
		logging.Int("integration_actions", result.IntegrationActions))
	return result
}

func (o *Orchestrator) upsertStatus(ctx context.Context, eventID string, state ProcessingState, errMsg string) {
	err := o.statuses.Upsert(ctx, &ProcessingStatus{
		EventID:   eventID,
		Status:    state,
		Error:     errMsg,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		o.logger.Warn(ctx, "failed to update event processing status",
			logging.String("event_id", eventID), logging.Error(err))
	}
}

// GetMetrics 返回当前处理指标快照
func (o *Orchestrator) GetMetrics() Metrics {
	return o.metrics.Snapshot()
}

// ResetDailyMetrics 重置当日计数
func (o *Orchestrator) ResetDailyMetrics() {
	o.metrics.ResetDaily()
	o.logger.Info(context.Background(), "daily metrics reset")
}

// InFlight 返回正在处理中的事件 ID
func (o *Orchestrator) InFlight() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.inflight))
	for id := range o.inflight {
		ids = append(ids, id)
	}
	return ids
}

// ClearCaches 清空触发匹配缓存与集成配置缓存
func (o *Orchestrator) ClearCaches() {
	o.triggers.ClearCache()
	o.coordinator.ClearCache()
}

// HealthCheck 检查各子系统可用性
func (o *Orchestrator) HealthCheck(ctx context.Context) bool {
	return o.triggers.HealthCheck(ctx) && o.coordinator.HealthCheck(ctx)
}

// Shutdown 等待在途事件处理完成并清理缓存
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info(ctx, "shutting down orchestrator")
	for {
		o.mu.Lock()
		var pending []*inflightEntry
		for _, entry := range o.inflight {
			pending = append(pending, entry)
		}
		o.mu.Unlock()
		if len(pending) == 0 {
			break
		}
		for _, entry := range pending {
			select {
			case <-entry.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	o.ClearCaches()
	o.logger.Info(ctx, "orchestrator shutdown complete")
	return nil
}
