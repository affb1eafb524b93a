package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"conductor/eventing"
	"conductor/logging"
)

// NATSConfig NATS JetStream 总线配置
type NATSConfig struct {
	// Conn 复用已有连接；为空时按 URL 新建连接并由总线负责关闭
	Conn *nats.Conn
	URL  string

	// StreamName JetStream 流名称，默认 CONDUCTOR_EVENTS
	StreamName string
	// SubjectPrefix 主题前缀，默认 "events."
	SubjectPrefix string
	// DurablePrefix 持久化消费者名称前缀，默认 "conductor"
	DurablePrefix string

	AckWait       time.Duration
	MaxAckPending int

	Logger logging.Logger
}

// NATSBus 基于 NATS JetStream 的事件总线
//
// 每个事件类型映射到一个主题（前缀 + 事件类型），
// 通配订阅映射到 ">" 通配主题。
// 消费使用队列组 + 持久化消费者，支持多实例竞争消费。
type NATSBus struct {
	cfg     NATSConfig
	conn    *nats.Conn
	js      nats.JetStreamContext
	ownConn bool
	logger  logging.Logger

	mu       sync.RWMutex
	handlers map[string][]IEventHandler
	subs     []*nats.Subscription
	running  bool
}

// NewNATSBus 创建 JetStream 事件总线
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.StreamName == "" {
		cfg.StreamName = "CONDUCTOR_EVENTS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "events."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "conductor"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("bus.nats")
	}
	if cfg.Conn == nil && cfg.URL == "" {
		return nil, fmt.Errorf("nats connection not configured")
	}
	return &NATSBus{
		cfg:      cfg,
		conn:     cfg.Conn,
		logger:   cfg.Logger,
		handlers: make(map[string][]IEventHandler),
	}, nil
}

// Publish 发布事件到对应主题
func (b *NATSBus) Publish(ctx context.Context, event *eventing.Event) error {
	js, err := b.ensureConnection()
	if err != nil {
		return err
	}
	if err := b.ensureStream(js); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = js.Publish(b.subjectName(event.EventType), data, nats.Context(ctx))
	return err
}

// Subscribe 注册处理器；总线已启动时立即建立消费
func (b *NATSBus) Subscribe(eventType string, handler IEventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	if b.running {
		return b.subscribeLocked(eventType)
	}
	return nil
}

// Start 为已注册的事件类型建立消费
func (b *NATSBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("nats bus already running")
	}
	js, err := b.ensureConnection()
	if err != nil {
		return err
	}
	if err := b.ensureStream(js); err != nil {
		return err
	}
	for eventType := range b.handlers {
		if err := b.subscribeLocked(eventType); err != nil {
			return err
		}
	}
	b.running = true
	return nil
}

// Stop 排空订阅并关闭自有连接
func (b *NATSBus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.logger.Warn(context.Background(), "drain subscription failed", logging.Error(err))
		}
	}
	b.subs = nil
	b.running = false
	if b.ownConn && b.conn != nil {
		b.conn.Close()
		b.conn = nil
		b.js = nil
	}
	return nil
}

func (b *NATSBus) ensureConnection() (nats.JetStreamContext, error) {
	if b.js != nil {
		return b.js, nil
	}
	if b.conn == nil {
		conn, err := nats.Connect(b.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		b.conn = conn
		b.ownConn = true
	}
	js, err := b.conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	b.js = js
	return js, nil
}

func (b *NATSBus) ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(b.cfg.StreamName)
	if err == nil {
		return nil
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:              b.cfg.StreamName,
		Subjects:          []string{b.cfg.SubjectPrefix + ">"},
		Retention:         nats.LimitsPolicy,
		MaxMsgsPerSubject: -1,
	})
	if err != nil && !strings.Contains(err.Error(), "already in use") {
		return fmt.Errorf("ensure stream %s: %w", b.cfg.StreamName, err)
	}
	return nil
}

func (b *NATSBus) subscribeLocked(eventType string) error {
	subject := b.subjectName(eventType)
	durable := b.durableName(eventType)
	sub, err := b.js.QueueSubscribe(subject, durable, b.handleMessage,
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(b.cfg.AckWait),
		nats.MaxAckPending(b.cfg.MaxAckPending),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

func (b *NATSBus) handleMessage(msg *nats.Msg) {
	var event eventing.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		b.logger.Warn(context.Background(), "unmarshal event failed",
			logging.String("subject", msg.Subject), logging.Error(err))
		_ = msg.Ack()
		return
	}
	b.dispatch(context.Background(), &event)
	if err := msg.Ack(); err != nil {
		b.logger.Warn(context.Background(), "ack failed", logging.Error(err))
	}
}

func (b *NATSBus) dispatch(ctx context.Context, event *eventing.Event) {
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
}

func (b *NATSBus) subjectName(eventType string) string {
	if eventType == Wildcard {
		return b.cfg.SubjectPrefix + ">"
	}
	return b.cfg.SubjectPrefix + eventType
}

func (b *NATSBus) durableName(eventType string) string {
	name := strings.NewReplacer(".", "_", "*", "all", ">", "all").Replace(eventType)
	return b.cfg.DurablePrefix + "_" + name
}
