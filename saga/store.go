package saga

import (
	"context"
	"sort"
	"sync"

	"conductor/errors"
)

// ISagaStore Saga 持久化接口
type ISagaStore interface {
	// Save 保存新 Saga
	Save(ctx context.Context, saga *Saga) error

	// Update 覆盖更新已存在的 Saga
	Update(ctx context.Context, saga *Saga) error

	// Get 按 ID 加载，不存在时返回 NOT_FOUND 错误
	Get(ctx context.Context, sagaID string) (*Saga, error)

	// GetByCorrelation 按关联 ID 加载，按开始时间降序
	GetByCorrelation(ctx context.Context, correlationID string) ([]Saga, error)

	// GetByStatus 按状态加载，按开始时间降序
	GetByStatus(ctx context.Context, status Status) ([]Saga, error)
}

// MemorySagaStore 内存 Saga 存储，用于测试与单进程部署
type MemorySagaStore struct {
	mu    sync.RWMutex
	sagas map[string]*Saga
}

// NewMemorySagaStore 创建内存 Saga 存储
func NewMemorySagaStore() *MemorySagaStore {
	return &MemorySagaStore{sagas: make(map[string]*Saga)}
}

// Save 保存新 Saga
func (s *MemorySagaStore) Save(ctx context.Context, saga *Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sagas[saga.ID]; exists {
		return errors.Newf(errors.ErrCodeConflict, "saga already exists: %s", saga.ID)
	}
	s.sagas[saga.ID] = cloneSaga(saga)
	return nil
}

// Update 覆盖更新
func (s *MemorySagaStore) Update(ctx context.Context, saga *Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sagas[saga.ID]; !exists {
		return errors.NewNotFound("saga not found: %s", saga.ID)
	}
	s.sagas[saga.ID] = cloneSaga(saga)
	return nil
}

// Get 按 ID 加载
func (s *MemorySagaStore) Get(ctx context.Context, sagaID string) (*Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	saga, exists := s.sagas[sagaID]
	if !exists {
		return nil, errors.NewNotFound("saga not found: %s", sagaID)
	}
	return cloneSaga(saga), nil
}

// GetByCorrelation 按关联 ID 加载
func (s *MemorySagaStore) GetByCorrelation(ctx context.Context, correlationID string) ([]Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Saga
	for _, saga := range s.sagas {
		if saga.CorrelationID == correlationID {
			result = append(result, *cloneSaga(saga))
		}
	}
	sortByStartedAtDesc(result)
	return result, nil
}

// GetByStatus 按状态加载
func (s *MemorySagaStore) GetByStatus(ctx context.Context, status Status) ([]Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Saga
	for _, saga := range s.sagas {
		if saga.Status == status {
			result = append(result, *cloneSaga(saga))
		}
	}
	sortByStartedAtDesc(result)
	return result, nil
}

func sortByStartedAtDesc(sagas []Saga) {
	sort.SliceStable(sagas, func(i, j int) bool {
		return sagas[i].StartedAt.After(sagas[j].StartedAt)
	})
}

func cloneSaga(saga *Saga) *Saga {
	copied := *saga
	copied.Steps = append([]Step(nil), saga.Steps...)
	return &copied
}
