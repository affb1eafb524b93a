// Package orchestration 提供事件驱动编排：
// 一个事件经过触发工作流、派生集成动作、协调执行、
// 记录处理状态与运行指标的完整管道。
package orchestration

import (
	"context"
	"sync"
	"time"

	"conductor/errors"
)

// ProcessingState 事件处理状态
type ProcessingState string

const (
	StateProcessing ProcessingState = "processing"
	StateCompleted  ProcessingState = "completed"
	StateFailed     ProcessingState = "failed"
)

// ProcessingStatus 按事件 ID 记录的处理状态
type ProcessingStatus struct {
	EventID   string          `json:"event_id"`
	Status    ProcessingState `json:"status"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IStatusStore 处理状态存储
type IStatusStore interface {
	// Upsert 写入或覆盖事件的处理状态
	Upsert(ctx context.Context, status *ProcessingStatus) error

	// Get 按事件 ID 查询，不存在时返回 NOT_FOUND 错误
	Get(ctx context.Context, eventID string) (*ProcessingStatus, error)
}

// MemoryStatusStore 内存处理状态存储
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]*ProcessingStatus
}

// NewMemoryStatusStore 创建内存状态存储
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]*ProcessingStatus)}
}

// Upsert 写入或覆盖
func (s *MemoryStatusStore) Upsert(ctx context.Context, status *ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *status
	s.statuses[status.EventID] = &copied
	return nil
}

// Get 按事件 ID 查询
func (s *MemoryStatusStore) Get(ctx context.Context, eventID string) (*ProcessingStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[eventID]
	if !ok {
		return nil, errors.NewNotFound("processing status not found for event %s", eventID)
	}
	copied := *status
	return &copied, nil
}
