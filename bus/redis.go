package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"conductor/eventing"
	"conductor/logging"
)

// redisClient 收敛依赖的 go-redis 命令子集，便于测试替换
type redisClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// RedisConfig Redis Streams 总线配置
type RedisConfig struct {
	// Client 复用已有客户端；为空时按 Addr 新建并由总线负责关闭
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int

	// StreamPrefix 流名称前缀，默认 "events:"
	StreamPrefix string
	// GroupName 消费者组名称，默认 "conductor"
	GroupName string
	// ConsumerName 消费者名称，默认随机生成
	ConsumerName string

	BlockTimeout time.Duration
	ReadCount    int64

	// 订阅错误退避，默认 100ms ~ 5s
	MinReadBackoff time.Duration
	MaxReadBackoff time.Duration

	Logger logging.Logger
}

// RedisBus 基于 Redis Streams 消费者组的事件总线
//
// 每个事件类型映射到一个 Stream（前缀 + 事件类型），
// 通配订阅不支持跨 Stream 匹配，需要通配时将事件额外写入
// 前缀 + "*" 的汇总流。
type RedisBus struct {
	cfg       RedisConfig
	client    redisClient
	ownClient bool
	logger    logging.Logger

	mu       sync.RWMutex
	handlers map[string][]IEventHandler
	readers  map[string]bool
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRedisBus 创建 Redis Streams 事件总线
func NewRedisBus(cfg RedisConfig) (*RedisBus, error) {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "events:"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "conductor"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("bus.redis")
	}

	var cl redisClient
	var own bool
	if cfg.Client != nil {
		cl = cfg.Client
	} else if cfg.Addr != "" {
		cl = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		own = true
	} else {
		return nil, errors.New("redis client not configured")
	}

	return &RedisBus{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger:    cfg.Logger,
		handlers:  make(map[string][]IEventHandler),
		readers:   make(map[string]bool),
	}, nil
}

// Publish 把事件写入对应 Stream
//
// 事件同时写入汇总流，供通配订阅消费。
func (b *RedisBus) Publish(ctx context.Context, event *eventing.Event) error {
	values, err := encodeEntry(event)
	if err != nil {
		return err
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamName(event.EventType),
		Values: values,
	}).Err(); err != nil {
		return err
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamName(Wildcard),
		Values: values,
	}).Err()
}

// Subscribe 注册处理器；总线已启动时立即建立读取循环
func (b *RedisBus) Subscribe(eventType string, handler IEventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	if b.running {
		b.startReaderLocked(eventType)
	}
	return nil
}

// Start 为已注册的事件类型启动后台读取循环
func (b *RedisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("redis bus already running")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	for eventType := range b.handlers {
		b.startReaderLocked(eventType)
	}
	b.running = true
	return nil
}

// Stop 停止读取循环并关闭自有客户端
func (b *RedisBus) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		if b.ownClient {
			return b.client.Close()
		}
		return nil
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	if b.ownClient {
		return b.client.Close()
	}
	return nil
}

func (b *RedisBus) startReaderLocked(eventType string) {
	if b.readers[eventType] {
		return
	}
	b.readers[eventType] = true
	b.wg.Add(1)
	go b.readLoop(eventType)
}

func (b *RedisBus) readLoop(eventType string) {
	defer b.wg.Done()
	stream := b.streamName(eventType)
	if err := b.ensureGroup(stream); err != nil {
		b.logger.Warn(b.ctx, "ensure group failed",
			logging.String("stream", stream), logging.Error(err))
	}
	args := &redis.XReadGroupArgs{
		Group:    b.cfg.GroupName,
		Consumer: b.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    b.cfg.ReadCount,
		Block:    b.cfg.BlockTimeout,
	}
	backoff := b.cfg.MinReadBackoff
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}
		res, err := b.client.XReadGroup(b.ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Warn(b.ctx, "xreadgroup failed",
				logging.Duration("backoff", backoff), logging.Error(err))
			time.Sleep(backoff)
			backoff *= 2
			if backoff > b.cfg.MaxReadBackoff {
				backoff = b.cfg.MaxReadBackoff
			}
			continue
		}
		backoff = b.cfg.MinReadBackoff
		for _, streamRes := range res {
			for _, entry := range streamRes.Messages {
				event, decodeErr := decodeEntry(entry)
				if decodeErr != nil {
					b.logger.Warn(b.ctx, "decode stream entry failed", logging.Error(decodeErr))
					_ = b.client.XAck(b.ctx, streamRes.Stream, b.cfg.GroupName, entry.ID).Err()
					continue
				}
				b.dispatch(b.ctx, eventType, event)
				if ackErr := b.client.XAck(b.ctx, streamRes.Stream, b.cfg.GroupName, entry.ID).Err(); ackErr != nil {
					b.logger.Warn(b.ctx, "xack failed", logging.Error(ackErr))
				}
			}
		}
	}
}

func (b *RedisBus) ensureGroup(stream string) error {
	err := b.client.XGroupCreateMkStream(b.ctx, stream, b.cfg.GroupName, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

// dispatch 把事件派发给该读取循环对应订阅类型的处理器
//
// 汇总流的读取循环只派发通配处理器，普通流只派发精确处理器，
// 避免同一事件被两个循环重复派发给同一处理器。
func (b *RedisBus) dispatch(ctx context.Context, subscribedType string, event *eventing.Event) {
	b.mu.RLock()
	handlers := append([]IEventHandler(nil), b.handlers[subscribedType]...)
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

func (b *RedisBus) streamName(eventType string) string {
	if eventType == Wildcard {
		return b.cfg.StreamPrefix + "all"
	}
	return b.cfg.StreamPrefix + eventType
}

func encodeEntry(event *eventing.Event) (map[string]interface{}, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]interface{}{
		"id":        event.ID,
		"type":      event.EventType,
		"timestamp": ts.UnixNano(),
		"event":     string(data),
	}, nil
}

func decodeEntry(entry redis.XMessage) (*eventing.Event, error) {
	raw, _ := entry.Values["event"].(string)
	if raw == "" {
		return nil, fmt.Errorf("stream entry %s missing event body", entry.ID)
	}
	var event eventing.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, err
	}
	if event.Timestamp.IsZero() {
		if v, ok := entry.Values["timestamp"].(string); ok {
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
				event.Timestamp = time.Unix(0, ns)
			}
		}
	}
	return &event, nil
}
