package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"conductor/logging"
)

// IClient 外部集成服务边界
//
// 按动作类型把负载派发到集成服务，返回服务端结果。
type IClient interface {
	Dispatch(ctx context.Context, action *Action, config *Config) (map[string]any, error)
}

// ClientFunc 函数式客户端适配
type ClientFunc func(ctx context.Context, action *Action, config *Config) (map[string]any, error)

// Dispatch 实现 IClient
func (f ClientFunc) Dispatch(ctx context.Context, action *Action, config *Config) (map[string]any, error) {
	return f(ctx, action, config)
}

// HTTPClientConfig 集成服务 HTTP 客户端配置
type HTTPClientConfig struct {
	// BaseURL 集成服务地址，默认 http://localhost:3006
	BaseURL string
	// Token Bearer 鉴权令牌
	Token string
	// Timeout 单次请求超时，默认 30s
	Timeout time.Duration
	// HTTPClient 复用已有 http.Client，为空时按 Timeout 新建
	HTTPClient *http.Client

	Logger logging.Logger
}

// HTTPClient 通过集成服务 REST API 派发动作
type HTTPClient struct {
	cfg    HTTPClientConfig
	http   *http.Client
	logger logging.Logger
}

// NewHTTPClient 创建集成服务 HTTP 客户端
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:3006"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("integration.client")
	}
	return &HTTPClient{cfg: cfg, http: cfg.HTTPClient, logger: cfg.Logger}
}

// Dispatch 按动作类型调用对应端点
//
// 请求体统一携带 {integrationType, credentials, <payload>}，
// 负载字段名因动作类型不同（contact/opportunity/syncData/notification/task）。
func (c *HTTPClient) Dispatch(ctx context.Context, action *Action, config *Config) (map[string]any, error) {
	method, path, payloadKey, err := routeAction(action)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"integrationType": config.Type,
		"credentials":     config.Credentials,
		payloadKey:        action.Data,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	if len(raw) > 0 {
		// 非 JSON 响应体按原始文本处理
		_ = json.Unmarshal(raw, &envelope)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := envelope.Message
		if message == "" {
			message = resp.Status
		}
		return nil, fmt.Errorf("%s %s failed: %s", string(action.Type), string(config.Type), message)
	}
	return envelope.Data, nil
}

// routeAction 把动作类型映射到集成服务端点
func routeAction(action *Action) (method, path, payloadKey string, err error) {
	switch action.Type {
	case ActionCreateContact:
		return http.MethodPost, "/api/v1/crm/contacts", "contact", nil
	case ActionUpdateContact:
		id, _ := action.Data["id"].(string)
		return http.MethodPut, "/api/v1/crm/contacts/" + id, "contact", nil
	case ActionCreateOpportunity:
		return http.MethodPost, "/api/v1/crm/opportunities", "opportunity", nil
	case ActionUpdateOpportunity:
		id, _ := action.Data["id"].(string)
		return http.MethodPut, "/api/v1/crm/opportunities/" + id, "opportunity", nil
	case ActionSyncData:
		return http.MethodPost, "/api/v1/sync", "syncData", nil
	case ActionSendNotification:
		return http.MethodPost, "/api/v1/notifications", "notification", nil
	case ActionCreateTask:
		return http.MethodPost, "/api/v1/tasks", "task", nil
	default:
		return "", "", "", fmt.Errorf("unknown action type: %s", action.Type)
	}
}
