package httpapi

import (
	"net/http"
	"strconv"

	"conductor/eventing"
	"conductor/logging"
	"conductor/orchestration"
)

// EventHandlers 事件存储与追加入口的处理器
type EventHandlers struct {
	store        eventing.IEventStore
	orchestrator *orchestration.Service
	logger       logging.Logger
}

// NewEventHandlers 创建事件处理器
//
// 参数：
//   - orchestrator: 可为 nil，此时追加事件不触发编排
func NewEventHandlers(store eventing.IEventStore, orchestrator *orchestration.Service) *EventHandlers {
	return &EventHandlers{
		store:        store,
		orchestrator: orchestrator,
		logger:       logging.Component("httpapi.events"),
	}
}

// Register 注册事件路由
func (h *EventHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /events", h.AppendEvent)
	mux.HandleFunc("GET /events/aggregate/{id}", h.EventsByAggregate)
	mux.HandleFunc("GET /events/type/{type}", h.EventsByType)
	mux.HandleFunc("GET /events/correlation/{id}", h.EventsByCorrelation)
}

type appendEventRequest struct {
	AggregateID   string         `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	EventData     map[string]any `json:"event_data"`
	UserID        string         `json:"user_id"`
	CorrelationID string         `json:"correlation_id"`
	CausationID   string         `json:"causation_id"`
	Metadata      map[string]any `json:"metadata"`
}

// AppendEvent 追加事件并交给编排器处理
//
// 版本号由服务端按聚合当前版本 + 1 计算，请求方不传版本。
func (h *EventHandlers) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	ctx := r.Context()
	version, err := eventing.NextVersion(ctx, h.store, req.AggregateID)
	if err != nil {
		writeError(w, err)
		return
	}

	event, err := eventing.NewBuilder().
		WithAggregate(req.AggregateID, req.AggregateType).
		WithEventType(req.EventType).
		WithEventData(req.EventData).
		WithVersion(version).
		WithUser(req.UserID).
		WithCorrelation(req.CorrelationID, req.CausationID).
		WithMetadata(req.Metadata).
		Build()
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.Append(ctx, event); err != nil {
		writeError(w, err)
		return
	}

	data := map[string]any{"event": event}
	if h.orchestrator != nil {
		data["orchestration"] = h.orchestrator.ProcessEvent(ctx, event)
	}
	writeSuccess(w, data)
}

// EventsByAggregate 返回聚合的事件历史
func (h *EventHandlers) EventsByAggregate(w http.ResponseWriter, r *http.Request) {
	aggregateID := r.PathValue("id")
	fromVersion := uint64(0)
	if raw := r.URL.Query().Get("fromVersion"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid fromVersion: "+raw)
			return
		}
		fromVersion = parsed
	}

	events, err := h.store.LoadByAggregate(r.Context(), aggregateID, fromVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"events": events, "count": len(events)})
}

// EventsByType 按类型返回事件，最新在前
func (h *EventHandlers) EventsByType(w http.ResponseWriter, r *http.Request) {
	eventType := r.PathValue("type")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "invalid limit: "+raw)
			return
		}
		limit = parsed
	}

	events, err := h.store.LoadByType(r.Context(), eventType, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"events": events, "count": len(events)})
}

// EventsByCorrelation 返回因果链上的事件，按时间升序
func (h *EventHandlers) EventsByCorrelation(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.LoadByCorrelation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"events": events, "count": len(events)})
}
