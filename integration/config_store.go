package integration

import (
	"context"
	"sync"

	"conductor/errors"
)

// IConfigStore 集成配置存储
type IConfigStore interface {
	// GetActiveConfig 取客户某集成类型的激活配置，没有时返回 NOT_FOUND 错误
	GetActiveConfig(ctx context.Context, integrationType Type, clientID string) (*Config, error)

	// SaveConfig 保存或覆盖配置
	SaveConfig(ctx context.Context, config *Config) error

	// ListConfigs 返回全部配置，供统计使用
	ListConfigs(ctx context.Context) ([]Config, error)
}

// MemoryConfigStore 内存集成配置存储
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewMemoryConfigStore 创建内存配置存储
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]*Config)}
}

// GetActiveConfig 取激活配置
func (s *MemoryConfigStore) GetActiveConfig(ctx context.Context, integrationType Type, clientID string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	config, ok := s.configs[configKey(integrationType, clientID)]
	if !ok || config.Status != "active" {
		return nil, errors.NewNotFound("integration %s not configured for client %s", integrationType, clientID)
	}
	copied := *config
	return &copied, nil
}

// SaveConfig 保存配置
func (s *MemoryConfigStore) SaveConfig(ctx context.Context, config *Config) error {
	if config.Type == "" || config.ClientID == "" {
		return errors.NewValidation("integration config requires type and client id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *config
	s.configs[configKey(config.Type, config.ClientID)] = &copied
	return nil
}

// ListConfigs 返回全部配置
func (s *MemoryConfigStore) ListConfigs(ctx context.Context) ([]Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Config, 0, len(s.configs))
	for _, config := range s.configs {
		result = append(result, *config)
	}
	return result, nil
}

func configKey(integrationType Type, clientID string) string {
	return string(integrationType) + ":" + clientID
}
