package bus

import (
	"context"
	"sync"

	"conductor/eventing"
	"conductor/logging"
)

// MemoryBus 进程内同步事件总线
//
// Publish 在调用方 goroutine 内依次调用处理器，
// 处理器返回的错误只记录日志，不会中断其余处理器。
// 适用于测试与单进程部署。
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]IEventHandler
	running  bool
	logger   logging.Logger
}

// NewMemoryBus 创建内存事件总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string][]IEventHandler),
		logger:   logging.Component("bus.memory"),
	}
}

// Publish 同步分发事件
func (b *MemoryBus) Publish(ctx context.Context, event *eventing.Event) error {
	b.mu.RLock()
	exact := b.handlers[event.EventType]
	wildcard := b.handlers[Wildcard]
	handlers := make([]IEventHandler, 0, len(exact)+len(wildcard))
	handlers = append(handlers, exact...)
	handlers = append(handlers, wildcard...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			b.logger.Warn(ctx, "event handler failed",
				logging.String("event_type", event.EventType),
				logging.String("event_id", event.ID),
				logging.Error(err))
		}
	}
	return nil
}

// Subscribe 注册处理器
func (b *MemoryBus) Subscribe(eventType string, handler IEventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Start 标记总线已启动
func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return nil
}

// Stop 停止总线
func (b *MemoryBus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	return nil
}
