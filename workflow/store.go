package workflow

import (
	"context"
	"sort"
	"sync"

	"conductor/errors"
)

// IDefinitionStore 工作流定义存储
type IDefinitionStore interface {
	// SaveDefinition 保存定义，保存前必须通过 Validate
	SaveDefinition(ctx context.Context, definition *Definition) error

	// GetDefinition 按 ID 加载激活的定义，不存在或未激活时返回 NOT_FOUND 错误
	GetDefinition(ctx context.Context, workflowID string) (*Definition, error)

	// ListActiveDefinitions 返回全部激活的定义
	ListActiveDefinitions(ctx context.Context) ([]Definition, error)
}

// IExecutionStore 工作流执行记录存储
type IExecutionStore interface {
	// SaveExecution 保存新执行记录
	SaveExecution(ctx context.Context, execution *Execution) error

	// UpdateExecution 覆盖更新
	UpdateExecution(ctx context.Context, execution *Execution) error

	// GetExecution 按 ID 加载，不存在时返回 NOT_FOUND 错误
	GetExecution(ctx context.Context, executionID string) (*Execution, error)

	// ListExecutions 按工作流 ID 分页，按开始时间降序；返回总数
	ListExecutions(ctx context.Context, workflowID string, page, limit int) ([]Execution, int, error)
}

// MemoryDefinitionStore 内存定义存储
type MemoryDefinitionStore struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

// NewMemoryDefinitionStore 创建内存定义存储
func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{definitions: make(map[string]*Definition)}
}

// SaveDefinition 保存定义
func (s *MemoryDefinitionStore) SaveDefinition(ctx context.Context, definition *Definition) error {
	if err := definition.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *definition
	s.definitions[definition.ID] = &copied
	return nil
}

// GetDefinition 按 ID 加载
func (s *MemoryDefinitionStore) GetDefinition(ctx context.Context, workflowID string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	definition, ok := s.definitions[workflowID]
	if !ok || !definition.Active {
		return nil, errors.NewNotFound("workflow not found: %s", workflowID)
	}
	copied := *definition
	return &copied, nil
}

// ListActiveDefinitions 返回激活的定义
func (s *MemoryDefinitionStore) ListActiveDefinitions(ctx context.Context) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Definition
	for _, definition := range s.definitions {
		if definition.Active {
			result = append(result, *definition)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// MemoryExecutionStore 内存执行记录存储
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
}

// NewMemoryExecutionStore 创建内存执行记录存储
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[string]*Execution)}
}

// SaveExecution 保存新执行记录
func (s *MemoryExecutionStore) SaveExecution(ctx context.Context, execution *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[execution.ID]; exists {
		return errors.Newf(errors.ErrCodeConflict, "execution already exists: %s", execution.ID)
	}
	copied := *execution
	s.executions[execution.ID] = &copied
	return nil
}

// UpdateExecution 覆盖更新
func (s *MemoryExecutionStore) UpdateExecution(ctx context.Context, execution *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[execution.ID]; !exists {
		return errors.NewNotFound("execution not found: %s", execution.ID)
	}
	copied := *execution
	s.executions[execution.ID] = &copied
	return nil
}

// GetExecution 按 ID 加载
func (s *MemoryExecutionStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	execution, ok := s.executions[executionID]
	if !ok {
		return nil, errors.NewNotFound("execution not found: %s", executionID)
	}
	copied := *execution
	return &copied, nil
}

// ListExecutions 按工作流 ID 分页
func (s *MemoryExecutionStore) ListExecutions(ctx context.Context, workflowID string, page, limit int) ([]Execution, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []Execution
	for _, execution := range s.executions {
		if execution.WorkflowID == workflowID {
			all = append(all, *execution)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}
