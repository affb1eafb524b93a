// Package sqlite 提供各存储接口的 SQLite 实现
//
// 复杂结构（Saga 步骤、工作流定义、执行上下文）以 JSON 列落盘，
// 编解码只发生在存储边界：包外始终拿到类型化的领域对象。
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"conductor/errors"
)

// Open 打开 SQLite 数据库并设置常用 PRAGMA
//
// 参数：
//   - dsn: 数据库路径，":memory:" 表示内存库
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "open sqlite database failed")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "apply sqlite pragma failed")
		}
	}
	return db, nil
}

// Init 建立全部表结构，可重复调用
func Init(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data TEXT NOT NULL,
			version INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			user_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			causation_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			UNIQUE (aggregate_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (event_type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_correlation ON events (correlation_id)`,
		`CREATE TABLE IF NOT EXISTS sagas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			steps TEXT NOT NULL,
			current_step_index INTEGER NOT NULL DEFAULT 0,
			correlation_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			completed_at DATETIME NULL,
			failed_at DATETIME NULL,
			error TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sagas_correlation ON sagas (correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sagas_status ON sagas (status)`,
		`CREATE TABLE IF NOT EXISTS workflow_definitions (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			name TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1,
			definition TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			client_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			current_state TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NULL,
			error TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON workflow_executions (workflow_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS integration_configs (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			client_id TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			credentials TEXT NOT NULL DEFAULT '{}',
			settings TEXT NOT NULL DEFAULT '{}',
			last_sync_at DATETIME NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (type, client_id)
		)`,
		`CREATE TABLE IF NOT EXISTS event_processing_status (
			event_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "create sqlite schema failed")
		}
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
