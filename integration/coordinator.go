package integration

import (
	"context"
	"strings"
	"sync"
	"time"

	"conductor/cache"
	"conductor/errors"
	"conductor/logging"
	"conductor/retry"
)

// configCacheTTL 集成配置查询的缓存时长
const configCacheTTL = 10 * time.Minute

// defaultMaxRetries 动作未声明时的重试上限
const defaultMaxRetries = 3

// Coordinator 集成动作协调器
//
// Coordinate 并发派发一批动作并等待全部落定；
// 可重试错误按 min(1000*2^n, 10000) 毫秒指数退避原地重试。
type Coordinator struct {
	configs     IConfigStore
	client      IClient
	configCache *cache.Cache[string, *Config]
	logger      logging.Logger
}

// NewCoordinator 创建协调器
func NewCoordinator(configs IConfigStore, client IClient) *Coordinator {
	return &Coordinator{
		configs: configs,
		client:  client,
		configCache: cache.New[string, *Config](cache.Config{
			Name:    "integration-configs",
			MaxSize: 1024,
			TTL:     configCacheTTL,
		}),
		logger: logging.Component("integration.coordinator"),
	}
}

// Coordinate 并发执行一批集成动作
//
// 单个动作失败只产生一条失败结果，不会中断其余动作；
// 返回结果与入参动作一一对应。
func (c *Coordinator) Coordinate(ctx context.Context, actions []Action, coordCtx CoordinationContext) []Result {
	c.logger.Info(ctx, "starting integration coordination",
		logging.String("workflow_id", coordCtx.WorkflowID),
		logging.String("execution_id", coordCtx.ExecutionID),
		logging.String("client_id", coordCtx.ClientID),
		logging.Int("action_count", len(actions)))

	results := make([]Result, len(actions))
	var wg sync.WaitGroup
	for i := range actions {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = c.ExecuteAction(ctx, &actions[idx], coordCtx)
		}(i)
	}
	wg.Wait()

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	c.logger.Info(ctx, "integration coordination completed",
		logging.String("workflow_id", coordCtx.WorkflowID),
		logging.Int("total_actions", len(actions)),
		logging.Int("successful_actions", successful),
		logging.Int("failed_actions", len(actions)-successful))
	return results
}

// ExecuteAction 执行单个集成动作
//
// 配置缺失立即失败；派发失败时按错误分类决定是否重试。
// 结果中的 RetryCount 为实际消耗的重试次数。
func (c *Coordinator) ExecuteAction(ctx context.Context, action *Action, coordCtx CoordinationContext) Result {
	start := time.Now()
	retryCount := action.RetryCount
	maxRetries := action.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	config, err := c.lookupConfig(ctx, action.IntegrationType, coordCtx.ClientID)
	if err != nil {
		// 配置缺失与存储故障分别报告，避免把后者误报为未配置
		msg := "Integration not configured: " + string(action.IntegrationType)
		if !errors.IsNotFound(err) {
			msg = "integration config lookup failed: " + err.Error()
		}
		return Result{
			Success:         false,
			ActionID:        action.ID,
			IntegrationType: action.IntegrationType,
			Error:           msg,
			Duration:        time.Since(start),
			RetryCount:      retryCount,
		}
	}

	// 原地循环重试，避免递归
	for {
		c.logger.Info(ctx, "executing integration action",
			logging.String("action_id", action.ID),
			logging.String("action_type", string(action.Type)),
			logging.String("integration_type", string(action.IntegrationType)),
			logging.Int("retry_count", retryCount))

		output, dispatchErr := c.client.Dispatch(ctx, action, config)
		if dispatchErr == nil {
			duration := time.Since(start)
			c.logger.Info(ctx, "integration action completed",
				logging.String("action_id", action.ID),
				logging.Duration("duration", duration),
				logging.Int("retry_count", retryCount))
			return Result{
				Success:         true,
				ActionID:        action.ID,
				IntegrationType: action.IntegrationType,
				Result:          output,
				Duration:        duration,
				RetryCount:      retryCount,
			}
		}

		c.logger.Error(ctx, "integration action failed",
			logging.String("action_id", action.ID),
			logging.String("integration_type", string(action.IntegrationType)),
			logging.Int("retry_count", retryCount),
			logging.Error(dispatchErr))

		if retryCount >= maxRetries || !IsRetryableError(dispatchErr) {
			return Result{
				Success:         false,
				ActionID:        action.ID,
				IntegrationType: action.IntegrationType,
				Error:           dispatchErr.Error(),
				Duration:        time.Since(start),
				RetryCount:      retryCount,
			}
		}

		delay := retryBackoff(retryCount)
		retryCount++
		c.logger.Info(ctx, "retrying integration action",
			logging.String("action_id", action.ID),
			logging.Int("retry_count", retryCount),
			logging.Duration("delay", delay))
		if err := retry.Sleep(ctx, delay); err != nil {
			return Result{
				Success:         false,
				ActionID:        action.ID,
				IntegrationType: action.IntegrationType,
				Error:           err.Error(),
				Duration:        time.Since(start),
				RetryCount:      retryCount,
			}
		}
	}
}

// ClearCache 清空配置缓存
func (c *Coordinator) ClearCache() {
	c.configCache.Clear()
	c.logger.Info(context.Background(), "integration config cache cleared")
}

// GetStats 统计集成配置
func (c *Coordinator) GetStats(ctx context.Context) (Stats, error) {
	configs, err := c.configs.ListConfigs(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{IntegrationTypes: make(map[string]int)}
	for _, config := range configs {
		stats.TotalIntegrations++
		if config.Status == "active" {
			stats.ActiveIntegrations++
		}
		stats.IntegrationTypes[string(config.Type)]++
	}
	return stats, nil
}

// HealthCheck 检查配置存储可用性
func (c *Coordinator) HealthCheck(ctx context.Context) bool {
	_, err := c.configs.ListConfigs(ctx)
	return err == nil
}

func (c *Coordinator) lookupConfig(ctx context.Context, integrationType Type, clientID string) (*Config, error) {
	key := configKey(integrationType, clientID)
	if cached, found := c.configCache.Get(key); found {
		return cached, nil
	}
	config, err := c.configs.GetActiveConfig(ctx, integrationType, clientID)
	if err != nil {
		if !errors.IsNotFound(err) {
			c.logger.Error(ctx, "failed to fetch integration config",
				logging.String("integration_type", string(integrationType)),
				logging.String("client_id", clientID),
				logging.Error(err))
		}
		return nil, err
	}
	c.configCache.Set(key, config)
	return config, nil
}

// IsRetryableError 判断派发错误是否可重试
//
// 含 timeout/network/connection/rate limit/temporary/unavailable
// 字样的错误视为瞬态，其余（鉴权、校验、未找到等）视为终态。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "network", "connection", "rate limit", "temporary", "unavailable",
	} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func retryBackoff(retryCount int) time.Duration {
	delayMs := 1000 * (1 << retryCount)
	if delayMs > 10000 {
		delayMs = 10000
	}
	return time.Duration(delayMs) * time.Millisecond
}
