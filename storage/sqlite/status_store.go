package sqlite

import (
	"context"
	"database/sql"

	"conductor/errors"
	"conductor/orchestration"
)

// StatusStore 事件处理状态存储的 SQLite 实现
type StatusStore struct {
	db *sql.DB
}

// NewStatusStore 创建 SQLite 处理状态存储
func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

// Upsert 写入或覆盖事件的处理状态
func (s *StatusStore) Upsert(ctx context.Context, status *orchestration.ProcessingStatus) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO event_processing_status
		(event_id, status, error, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
		status = excluded.status, error = excluded.error, updated_at = excluded.updated_at`,
		status.EventID, string(status.Status), status.Error, status.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "upsert event processing status failed")
	}
	return nil
}

// Get 按事件 ID 查询
func (s *StatusStore) Get(ctx context.Context, eventID string) (*orchestration.ProcessingStatus, error) {
	var status orchestration.ProcessingStatus
	var state string
	row := s.db.QueryRowContext(ctx,
		"SELECT event_id, status, error, updated_at FROM event_processing_status WHERE event_id = ?", eventID)
	if err := row.Scan(&status.EventID, &state, &status.Error, &status.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("processing status not found for event: %s", eventID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "load event processing status failed")
	}
	status.Status = orchestration.ProcessingState(state)
	return &status, nil
}
