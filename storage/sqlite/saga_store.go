package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"conductor/errors"
	"conductor/saga"
)

// SagaStore Saga 存储的 SQLite 实现
//
// 步骤列表以 JSON 列存储，读写时在此处编解码，
// 包外只见 []saga.Step。
type SagaStore struct {
	db *sql.DB
}

// NewSagaStore 创建 SQLite Saga 存储
func NewSagaStore(db *sql.DB) *SagaStore {
	return &SagaStore{db: db}
}

// Save 保存新 Saga
func (s *SagaStore) Save(ctx context.Context, instance *saga.Saga) error {
	stepsJSON, metadataJSON, err := encodeSagaColumns(instance)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sagas
		(id, name, status, steps, current_step_index, correlation_id, user_id, started_at, completed_at, failed_at, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.ID, instance.Name, string(instance.Status), stepsJSON, instance.CurrentStepIndex,
		instance.CorrelationID, instance.UserID, instance.StartedAt,
		instance.CompletedAt, instance.FailedAt, instance.Error, metadataJSON)
	if err != nil {
		if isDuplicateKeyError(err) {
			return errors.Newf(errors.ErrCodeConflict, "saga already exists: %s", instance.ID)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert saga failed")
	}
	return nil
}

// Update 覆盖更新已存在的 Saga
func (s *SagaStore) Update(ctx context.Context, instance *saga.Saga) error {
	stepsJSON, metadataJSON, err := encodeSagaColumns(instance)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE sagas SET
		name = ?, status = ?, steps = ?, current_step_index = ?, correlation_id = ?, user_id = ?,
		started_at = ?, completed_at = ?, failed_at = ?, error = ?, metadata = ?
		WHERE id = ?`,
		instance.Name, string(instance.Status), stepsJSON, instance.CurrentStepIndex,
		instance.CorrelationID, instance.UserID, instance.StartedAt,
		instance.CompletedAt, instance.FailedAt, instance.Error, metadataJSON, instance.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "update saga failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "update saga failed")
	}
	if affected == 0 {
		return errors.NewNotFound("saga not found: %s", instance.ID)
	}
	return nil
}

// Get 按 ID 加载
func (s *SagaStore) Get(ctx context.Context, sagaID string) (*saga.Saga, error) {
	row := s.db.QueryRowContext(ctx, selectSagas+" WHERE id = ?", sagaID)
	instance, err := scanSaga(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("saga not found: %s", sagaID)
	}
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// GetByCorrelation 按关联 ID 加载，按开始时间降序
func (s *SagaStore) GetByCorrelation(ctx context.Context, correlationID string) ([]saga.Saga, error) {
	return s.querySagas(ctx, selectSagas+" WHERE correlation_id = ? ORDER BY started_at DESC", correlationID)
}

// GetByStatus 按状态加载，按开始时间降序
func (s *SagaStore) GetByStatus(ctx context.Context, status saga.Status) ([]saga.Saga, error) {
	return s.querySagas(ctx, selectSagas+" WHERE status = ? ORDER BY started_at DESC", string(status))
}

const selectSagas = "SELECT id, name, status, steps, current_step_index, correlation_id, user_id, started_at, completed_at, failed_at, error, metadata FROM sagas"

func (s *SagaStore) querySagas(ctx context.Context, query string, args ...any) ([]saga.Saga, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "query sagas failed")
	}
	defer rows.Close()

	var sagas []saga.Saga
	for rows.Next() {
		instance, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, *instance)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate saga rows failed")
	}
	return sagas, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*saga.Saga, error) {
	var instance saga.Saga
	var status, stepsJSON, metadataJSON string
	var completedAt, failedAt sql.NullTime
	err := row.Scan(&instance.ID, &instance.Name, &status, &stepsJSON, &instance.CurrentStepIndex,
		&instance.CorrelationID, &instance.UserID, &instance.StartedAt,
		&completedAt, &failedAt, &instance.Error, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan saga row failed")
	}
	instance.Status = saga.Status(status)
	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		instance.FailedAt = &failedAt.Time
	}
	if err := json.Unmarshal([]byte(stepsJSON), &instance.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "deserialize saga steps failed")
	}
	if err := unmarshalMap(metadataJSON, &instance.Metadata); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "deserialize saga metadata failed")
	}
	return &instance, nil
}

func encodeSagaColumns(instance *saga.Saga) (string, string, error) {
	stepsJSON, err := json.Marshal(instance.Steps)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "serialize saga steps failed")
	}
	metadataJSON, err := marshalMap(instance.Metadata)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "serialize saga metadata failed")
	}
	return string(stepsJSON), string(metadataJSON), nil
}
