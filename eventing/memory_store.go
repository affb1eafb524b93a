package eventing

import (
	"context"
	"sort"
	"sync"
)

// MemoryEventStore 内存事件存储，用于测试与示例
type MemoryEventStore struct {
	mu sync.RWMutex
	// byAggregate 按聚合 ID 组织，保持追加顺序（即版本升序）
	byAggregate map[string][]Event
	// byType 按事件类型组织，保持追加顺序
	byType map[string][]Event
	// byCorrelation 按关联 ID 组织
	byCorrelation map[string][]Event
}

// NewMemoryEventStore 创建内存事件存储
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		byAggregate:   make(map[string][]Event),
		byType:        make(map[string][]Event),
		byCorrelation: make(map[string][]Event),
	}
}

func (m *MemoryEventStore) Append(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.byAggregate[event.AggregateID]
	var current uint64
	if len(existing) > 0 {
		current = existing[len(existing)-1].Version
	}
	if event.Version != current+1 {
		return NewConflictError(event.AggregateID, current+1, event.Version)
	}

	// 存副本，保证追加后的不可变性
	evt := *event
	m.byAggregate[event.AggregateID] = append(existing, evt)
	m.byType[event.EventType] = append(m.byType[event.EventType], evt)
	if event.CorrelationID != "" {
		m.byCorrelation[event.CorrelationID] = append(m.byCorrelation[event.CorrelationID], evt)
	}
	return nil
}

func (m *MemoryEventStore) LoadByAggregate(ctx context.Context, aggregateID string, fromVersion uint64) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.byAggregate[aggregateID]
	res := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Version >= fromVersion {
			res = append(res, e)
		}
	}
	return res, nil
}

func (m *MemoryEventStore) LoadByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.byType[eventType]
	res := make([]Event, 0, len(events))
	// 最新在前
	for i := len(events) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, events[i])
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.After(res[j].Timestamp) })
	return res, nil
}

func (m *MemoryEventStore) LoadByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.byCorrelation[correlationID]
	res := make([]Event, len(events))
	copy(res, events)
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}

func (m *MemoryEventStore) LatestVersion(ctx context.Context, aggregateID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.byAggregate[aggregateID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Version, nil
}
