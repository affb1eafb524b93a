// Package eventing 提供领域事件模型与事件存储抽象
//
// 事件是系统中的不可变事实：一旦追加便不再修改，
// 同一聚合的事件版本号从 1 开始严格递增。
package eventing

import (
	"time"

	"github.com/google/uuid"

	"conductor/errors"
)

// Event 领域事件
//
// 不变式：
//   - 追加后不可变；
//   - Version 按聚合 ID 严格递增，从 1 开始；
//   - CorrelationID 串联一条因果链，CausationID 指向引发本事件的事件。
type Event struct {
	ID            string         `json:"id"`
	AggregateID   string         `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	EventData     map[string]any `json:"event_data"`
	Version       uint64         `json:"event_version"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"user_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CausationID   string         `json:"causation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate 校验事件的必填字段
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.NewValidation("event id is required")
	}
	if e.AggregateID == "" {
		return errors.NewValidation("aggregate id is required")
	}
	if e.AggregateType == "" {
		return errors.NewValidation("aggregate type is required")
	}
	if e.EventType == "" {
		return errors.NewValidation("event type is required")
	}
	if e.UserID == "" {
		return errors.NewValidation("user id is required")
	}
	if e.Version == 0 {
		return errors.NewValidation("event version must be greater than 0")
	}
	return nil
}

// Builder 事件构建器
//
// 使用示例：
//
//	evt, err := eventing.NewBuilder().
//	    WithAggregate("client-1", eventing.AggregateClient).
//	    WithEventType(eventing.EventClientCreated).
//	    WithEventData(map[string]any{"name": "Acme"}).
//	    WithVersion(next).
//	    WithUser("user-1").
//	    Build()
type Builder struct {
	event Event
}

// NewBuilder 创建事件构建器，自动生成事件 ID 与时间戳
func NewBuilder() *Builder {
	return &Builder{event: Event{
		ID:        uuid.NewString(),
		Version:   1,
		Timestamp: time.Now(),
	}}
}

// WithAggregate 设置聚合信息
func (b *Builder) WithAggregate(aggregateID, aggregateType string) *Builder {
	b.event.AggregateID = aggregateID
	b.event.AggregateType = aggregateType
	return b
}

// WithEventType 设置事件类型
func (b *Builder) WithEventType(eventType string) *Builder {
	b.event.EventType = eventType
	return b
}

// WithEventData 设置事件数据
func (b *Builder) WithEventData(data map[string]any) *Builder {
	b.event.EventData = data
	return b
}

// WithVersion 设置事件版本
func (b *Builder) WithVersion(version uint64) *Builder {
	b.event.Version = version
	return b
}

// WithUser 设置操作用户
func (b *Builder) WithUser(userID string) *Builder {
	b.event.UserID = userID
	return b
}

// WithCorrelation 设置关联链信息
func (b *Builder) WithCorrelation(correlationID, causationID string) *Builder {
	b.event.CorrelationID = correlationID
	b.event.CausationID = causationID
	return b
}

// WithMetadata 设置元数据
func (b *Builder) WithMetadata(metadata map[string]any) *Builder {
	b.event.Metadata = metadata
	return b
}

// Build 构建事件，校验必填字段
func (b *Builder) Build() (*Event, error) {
	evt := b.event
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return &evt, nil
}
