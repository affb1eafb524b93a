package httpapi

import (
	"net/http"

	"conductor/logging"
	"conductor/saga"
)

// SagaHandlers Saga 管理的处理器
type SagaHandlers struct {
	manager *saga.Manager
	logger  logging.Logger
}

// NewSagaHandlers 创建 Saga 处理器
func NewSagaHandlers(manager *saga.Manager) *SagaHandlers {
	return &SagaHandlers{
		manager: manager,
		logger:  logging.Component("httpapi.sagas"),
	}
}

// Register 注册 Saga 路由
func (h *SagaHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sagas/start", h.StartSaga)
	mux.HandleFunc("GET /sagas/definitions", h.ListDefinitions)
	mux.HandleFunc("GET /sagas/{id}", h.GetSaga)
	mux.HandleFunc("POST /sagas/{id}/steps/{stepId}/execute", h.ExecuteStep)
	mux.HandleFunc("POST /sagas/{id}/compensate", h.Compensate)
}

type startSagaRequest struct {
	DefinitionName string         `json:"definitionName"`
	Definition     string         `json:"definition"` // 兼容旧字段名
	CorrelationID  string         `json:"correlation_id"`
	UserID         string         `json:"user_id"`
	Metadata       map[string]any `json:"metadata"`
}

func (r *startSagaRequest) definitionName() string {
	if r.DefinitionName != "" {
		return r.DefinitionName
	}
	return r.Definition
}

// StartSaga 按内置模板启动 Saga
func (h *SagaHandlers) StartSaga(w http.ResponseWriter, r *http.Request) {
	var req startSagaRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	definition, err := saga.BuiltinDefinition(req.definitionName())
	if err != nil {
		writeError(w, err)
		return
	}

	instance, err := h.manager.StartSaga(r.Context(), definition, req.CorrelationID, req.UserID, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, instance)
}

// GetSaga 查询 Saga 当前状态
func (h *SagaHandlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	instance, err := h.manager.GetSaga(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, instance)
}

// ExecuteStep 手动推进指定步骤
func (h *SagaHandlers) ExecuteStep(w http.ResponseWriter, r *http.Request) {
	sagaID := r.PathValue("id")
	stepID := r.PathValue("stepId")
	if err := h.manager.ExecuteStep(r.Context(), sagaID, stepID); err != nil {
		writeError(w, err)
		return
	}
	instance, err := h.manager.GetSaga(r.Context(), sagaID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, instance)
}

// Compensate 手动触发反向补偿
func (h *SagaHandlers) Compensate(w http.ResponseWriter, r *http.Request) {
	sagaID := r.PathValue("id")
	if err := h.manager.CompensateSaga(r.Context(), sagaID); err != nil {
		writeError(w, err)
		return
	}
	instance, err := h.manager.GetSaga(r.Context(), sagaID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, instance)
}

// ListDefinitions 返回内置 Saga 模板清单
func (h *SagaHandlers) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	names := saga.BuiltinDefinitionNames()
	definitions := make([]saga.Definition, 0, len(names))
	for _, name := range names {
		definition, err := saga.BuiltinDefinition(name)
		if err != nil {
			writeError(w, err)
			return
		}
		definitions = append(definitions, *definition)
	}
	writeSuccess(w, map[string]any{"definitions": definitions})
}
