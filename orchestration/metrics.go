package orchestration

import (
	"sync"
	"time"
)

// Metrics 事件处理运行指标快照
type Metrics struct {
	TotalEventsProcessed  int64         `json:"total_events_processed"`
	EventsProcessedToday  int64         `json:"events_processed_today"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	SuccessRate           float64       `json:"success_rate"`
	ErrorRate             float64       `json:"error_rate"`
	LastProcessedAt       *time.Time    `json:"last_processed_at,omitempty"`
}

// metricsTracker 以增量均值维护指标，每个已处理事件更新一次
type metricsTracker struct {
	mu      sync.Mutex
	metrics Metrics
}

// Record 记录一次处理结果
func (t *metricsTracker) Record(success bool, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := &t.metrics
	m.TotalEventsProcessed++
	m.EventsProcessedToday++
	n := float64(m.TotalEventsProcessed)
	m.AverageProcessingTime = time.Duration(
		(float64(m.AverageProcessingTime)*(n-1) + float64(duration)) / n)

	if success {
		m.SuccessRate = (m.SuccessRate*(n-1) + 1) / n
		m.ErrorRate = m.ErrorRate * (n - 1) / n
	} else {
		m.ErrorRate = (m.ErrorRate*(n-1) + 1) / n
		m.SuccessRate = m.SuccessRate * (n - 1) / n
	}

	now := time.Now()
	m.LastProcessedAt = &now
}

// Snapshot 返回当前指标副本
func (t *metricsTracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

// ResetDaily 清零当日计数
func (t *metricsTracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.EventsProcessedToday = 0
}
