package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"conductor/errors"
	"conductor/workflow"
)

// DefinitionStore 工作流定义存储的 SQLite 实现
//
// 定义整体以 JSON 列存储，id、client_id、is_active 作为查询列冗余。
type DefinitionStore struct {
	db *sql.DB
}

// NewDefinitionStore 创建 SQLite 定义存储
func NewDefinitionStore(db *sql.DB) *DefinitionStore {
	return &DefinitionStore{db: db}
}

// SaveDefinition 保存定义，保存前校验
func (s *DefinitionStore) SaveDefinition(ctx context.Context, definition *workflow.Definition) error {
	if err := definition.Validate(); err != nil {
		return err
	}
	definitionJSON, err := json.Marshal(definition)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "serialize workflow definition failed")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_definitions
		(id, client_id, name, version, is_active, definition) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		client_id = excluded.client_id, name = excluded.name, version = excluded.version,
		is_active = excluded.is_active, definition = excluded.definition`,
		definition.ID, definition.ClientID, definition.Name, definition.Version,
		boolToInt(definition.Active), string(definitionJSON))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "save workflow definition failed")
	}
	return nil
}

// GetDefinition 按 ID 加载激活的定义
func (s *DefinitionStore) GetDefinition(ctx context.Context, workflowID string) (*workflow.Definition, error) {
	var definitionJSON string
	row := s.db.QueryRowContext(ctx,
		"SELECT definition FROM workflow_definitions WHERE id = ? AND is_active = 1", workflowID)
	if err := row.Scan(&definitionJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("workflow definition not found: %s", workflowID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "load workflow definition failed")
	}
	var definition workflow.Definition
	if err := json.Unmarshal([]byte(definitionJSON), &definition); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "deserialize workflow definition failed")
	}
	return &definition, nil
}

// ListActiveDefinitions 返回全部激活的定义
func (s *DefinitionStore) ListActiveDefinitions(ctx context.Context) ([]workflow.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT definition FROM workflow_definitions WHERE is_active = 1 ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list workflow definitions failed")
	}
	defer rows.Close()

	var definitions []workflow.Definition
	for rows.Next() {
		var definitionJSON string
		if err := rows.Scan(&definitionJSON); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan workflow definition failed")
		}
		var definition workflow.Definition
		if err := json.Unmarshal([]byte(definitionJSON), &definition); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "deserialize workflow definition failed")
		}
		definitions = append(definitions, definition)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate workflow definitions failed")
	}
	return definitions, nil
}

// ExecutionStore 工作流执行记录存储的 SQLite 实现
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore 创建 SQLite 执行记录存储
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// SaveExecution 保存新执行记录
func (s *ExecutionStore) SaveExecution(ctx context.Context, execution *workflow.Execution) error {
	contextJSON, metadataJSON, err := encodeExecutionColumns(execution)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_executions
		(id, workflow_id, client_id, status, current_state, context, started_at, completed_at, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		execution.ID, execution.WorkflowID, execution.ClientID, string(execution.Status),
		execution.CurrentState, contextJSON, execution.StartedAt, execution.CompletedAt,
		execution.Error, metadataJSON)
	if err != nil {
		if isDuplicateKeyError(err) {
			return errors.Newf(errors.ErrCodeConflict, "execution already exists: %s", execution.ID)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert workflow execution failed")
	}
	return nil
}

// UpdateExecution 覆盖更新
func (s *ExecutionStore) UpdateExecution(ctx context.Context, execution *workflow.Execution) error {
	contextJSON, metadataJSON, err := encodeExecutionColumns(execution)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE workflow_executions SET
		workflow_id = ?, client_id = ?, status = ?, current_state = ?, context = ?,
		started_at = ?, completed_at = ?, error = ?, metadata = ?
		WHERE id = ?`,
		execution.WorkflowID, execution.ClientID, string(execution.Status), execution.CurrentState,
		contextJSON, execution.StartedAt, execution.CompletedAt, execution.Error, metadataJSON,
		execution.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "update workflow execution failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "update workflow execution failed")
	}
	if affected == 0 {
		return errors.NewNotFound("execution not found: %s", execution.ID)
	}
	return nil
}

// GetExecution 按 ID 加载
func (s *ExecutionStore) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	row := s.db.QueryRowContext(ctx, selectExecutions+" WHERE id = ?", executionID)
	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("execution not found: %s", executionID)
	}
	if err != nil {
		return nil, err
	}
	return execution, nil
}

// ListExecutions 按工作流 ID 分页，按开始时间降序
func (s *ExecutionStore) ListExecutions(ctx context.Context, workflowID string, page, limit int) ([]workflow.Execution, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	var total int
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflow_executions WHERE workflow_id = ?", workflowID)
	if err := row.Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "count workflow executions failed")
	}

	rows, err := s.db.QueryContext(ctx, selectExecutions+
		" WHERE workflow_id = ? ORDER BY started_at DESC LIMIT ? OFFSET ?",
		workflowID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "list workflow executions failed")
	}
	defer rows.Close()

	var executions []workflow.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		executions = append(executions, *execution)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "iterate workflow executions failed")
	}
	return executions, total, nil
}

const selectExecutions = "SELECT id, workflow_id, client_id, status, current_state, context, started_at, completed_at, error, metadata FROM workflow_executions"

func scanExecution(row rowScanner) (*workflow.Execution, error) {
	var execution workflow.Execution
	var status, contextJSON, metadataJSON string
	var completedAt sql.NullTime
	err := row.Scan(&execution.ID, &execution.WorkflowID, &execution.ClientID, &status,
		&execution.CurrentState, &contextJSON, &execution.StartedAt, &completedAt,
		&execution.Error, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan workflow execution failed")
	}
	execution.Status = workflow.ExecutionStatus(status)
	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(contextJSON), &execution.Context); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "deserialize execution context failed")
	}
	if err := unmarshalMap(metadataJSON, &execution.Metadata); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "deserialize execution metadata failed")
	}
	return &execution, nil
}

func encodeExecutionColumns(execution *workflow.Execution) (string, string, error) {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "serialize execution context failed")
	}
	metadataJSON, err := marshalMap(execution.Metadata)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "serialize execution metadata failed")
	}
	return string(contextJSON), string(metadataJSON), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
