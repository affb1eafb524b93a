package httpapi

import (
	"net/http"

	"conductor/eventing"
	"conductor/logging"
	"conductor/orchestration"
)

// OrchestrationHandlers 编排服务的处理器
type OrchestrationHandlers struct {
	service *orchestration.Service
	logger  logging.Logger
}

// NewOrchestrationHandlers 创建编排处理器
func NewOrchestrationHandlers(service *orchestration.Service) *OrchestrationHandlers {
	return &OrchestrationHandlers{
		service: service,
		logger:  logging.Component("httpapi.orchestration"),
	}
}

// Register 注册编排路由
func (h *OrchestrationHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /orchestration/events/process", h.ProcessEvent)
	mux.HandleFunc("GET /orchestration/health", h.Health)
	mux.HandleFunc("GET /orchestration/metrics", h.Metrics)
	mux.HandleFunc("POST /orchestration/cache/clear", h.ClearCaches)
}

// ProcessEvent 直接处理一个完整事件
func (h *OrchestrationHandlers) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	var event eventing.Event
	if err := decodeBody(r, &event); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := event.Validate(); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, h.service.ProcessEvent(r.Context(), &event))
}

// Health 返回编排服务健康状态
func (h *OrchestrationHandlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.service.Health(r.Context())
	if !health.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"code":    http.StatusServiceUnavailable,
			"message": "degraded",
			"data":    health,
		})
		return
	}
	writeSuccess(w, health)
}

// Metrics 返回处理指标快照
func (h *OrchestrationHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.service.Metrics())
}

// ClearCaches 清空触发匹配与集成配置缓存
func (h *OrchestrationHandlers) ClearCaches(w http.ResponseWriter, r *http.Request) {
	h.service.ClearCaches()
	h.logger.Info(r.Context(), "caches cleared via api")
	writeSuccess(w, map[string]any{"cleared": true})
}
