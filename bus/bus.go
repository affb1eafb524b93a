// Package bus 提供事件总线抽象与多种传输实现
//
// 总线负责把已追加到事件存储的事件分发给订阅方。
// 所有实现均是至少一次投递语义，去重由消费方负责。
package bus

import (
	"context"

	"conductor/eventing"
)

// Wildcard 通配订阅类型，匹配所有事件
const Wildcard = "*"

// IEventHandler 事件处理器
type IEventHandler interface {
	Handle(ctx context.Context, event *eventing.Event) error
}

// HandlerFunc 函数式处理器适配
type HandlerFunc func(ctx context.Context, event *eventing.Event) error

// Handle 实现 IEventHandler
func (f HandlerFunc) Handle(ctx context.Context, event *eventing.Event) error {
	return f(ctx, event)
}

// IEventBus 事件总线接口
//
// Subscribe 需要在 Start 之前或之后调用均可；
// 传入 Wildcard 作为事件类型时接收所有事件。
type IEventBus interface {
	// Publish 发布单个事件
	Publish(ctx context.Context, event *eventing.Event) error

	// Subscribe 注册某事件类型的处理器
	Subscribe(eventType string, handler IEventHandler) error

	// Start 启动后台消费
	Start(ctx context.Context) error

	// Stop 停止消费并释放资源
	Stop() error
}
