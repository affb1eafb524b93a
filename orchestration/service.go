package orchestration

import (
	"context"
	"sync"

	"conductor/bus"
	"conductor/errors"
	"conductor/eventing"
	"conductor/logging"
)

// ServiceHealth 编排服务健康报告
type ServiceHealth struct {
	Healthy     bool `json:"healthy"`
	Running     bool `json:"running"`
	Triggers    bool `json:"triggers"`
	Coordinator bool `json:"coordinator"`
	InFlight    int  `json:"in_flight"`
}

// Service 编排服务门面
//
// 将事件总线与编排器接到一起：启动后订阅全部事件，
// 每个到达的事件交给编排器处理。启动与停止均幂等。
type Service struct {
	orchestrator *Orchestrator
	eventBus     bus.IEventBus
	logger       logging.Logger

	mu      sync.Mutex
	running bool
}

// NewService 创建编排服务
func NewService(orchestrator *Orchestrator, eventBus bus.IEventBus) *Service {
	return &Service{
		orchestrator: orchestrator,
		eventBus:     eventBus,
		logger:       logging.Component("orchestration.service"),
	}
}

// Start 订阅事件总线并启动消费
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn(ctx, "orchestration service already running")
		return nil
	}

	handler := bus.HandlerFunc(func(ctx context.Context, event *eventing.Event) error {
		result := s.orchestrator.ProcessEvent(ctx, event)
		if !result.Success {
			s.logger.Warn(ctx, "event orchestration reported failures",
				logging.String("event_id", event.ID),
				logging.Int("failed_actions", result.IntegrationActionsFailed))
		}
		return nil
	})
	if err := s.eventBus.Subscribe(bus.Wildcard, handler); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to subscribe orchestrator to event bus")
	}
	if err := s.eventBus.Start(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to start event bus")
	}

	s.running = true
	s.logger.Info(ctx, "orchestration service started")
	return nil
}

// Stop 停止消费并等待在途事件处理完成
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	if err := s.eventBus.Stop(); err != nil {
		s.logger.Warn(ctx, "event bus stop reported error", logging.Error(err))
	}
	if err := s.orchestrator.Shutdown(ctx); err != nil {
		return err
	}

	s.running = false
	s.logger.Info(ctx, "orchestration service stopped")
	return nil
}

// ProcessEvent 直接处理一个事件，绕过总线
func (s *Service) ProcessEvent(ctx context.Context, event *eventing.Event) *Result {
	return s.orchestrator.ProcessEvent(ctx, event)
}

// ClearCaches 清空编排器持有的全部缓存
func (s *Service) ClearCaches() {
	s.orchestrator.ClearCaches()
}

// Health 汇总健康状态
func (s *Service) Health(ctx context.Context) ServiceHealth {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	health := ServiceHealth{
		Running:  running,
		InFlight: len(s.orchestrator.InFlight()),
	}
	health.Triggers = s.orchestrator.triggers.HealthCheck(ctx)
	health.Coordinator = s.orchestrator.coordinator.HealthCheck(ctx)
	health.Healthy = health.Triggers && health.Coordinator
	return health
}

// Metrics 返回编排器指标快照
func (s *Service) Metrics() Metrics {
	return s.orchestrator.GetMetrics()
}
