package sqlite

import (
	"context"
	"database/sql"
	"time"

	"conductor/errors"
	"conductor/integration"
)

// ConfigStore 集成配置存储的 SQLite 实现
type ConfigStore struct {
	db *sql.DB
}

// NewConfigStore 创建 SQLite 集成配置存储
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// GetActiveConfig 取客户某集成类型的激活配置
func (s *ConfigStore) GetActiveConfig(ctx context.Context, integrationType integration.Type, clientID string) (*integration.Config, error) {
	row := s.db.QueryRowContext(ctx, selectConfigs+
		" WHERE type = ? AND client_id = ? AND status = 'active'", string(integrationType), clientID)
	config, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("no active %s integration for client %s", integrationType, clientID)
	}
	if err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig 保存或覆盖配置
func (s *ConfigStore) SaveConfig(ctx context.Context, config *integration.Config) error {
	if config.Type == "" || config.ClientID == "" {
		return errors.NewValidation("integration config requires type and client id")
	}
	credentialsJSON, err := marshalMap(config.Credentials)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "serialize integration credentials failed")
	}
	settingsJSON, err := marshalMap(config.Settings)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "serialize integration settings failed")
	}
	now := time.Now()
	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}
	config.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `INSERT INTO integration_configs
		(id, user_id, client_id, type, name, status, credentials, settings, last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, client_id) DO UPDATE SET
		id = excluded.id, user_id = excluded.user_id, name = excluded.name, status = excluded.status,
		credentials = excluded.credentials, settings = excluded.settings,
		last_sync_at = excluded.last_sync_at, updated_at = excluded.updated_at`,
		config.ID, config.UserID, config.ClientID, string(config.Type), config.Name, config.Status,
		string(credentialsJSON), string(settingsJSON), config.LastSyncAt, config.CreatedAt, config.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "save integration config failed")
	}
	return nil
}

// ListConfigs 返回全部配置
func (s *ConfigStore) ListConfigs(ctx context.Context) ([]integration.Config, error) {
	rows, err := s.db.QueryContext(ctx, selectConfigs+" ORDER BY type, client_id")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list integration configs failed")
	}
	defer rows.Close()

	var configs []integration.Config
	for rows.Next() {
		config, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *config)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate integration configs failed")
	}
	return configs, nil
}

const selectConfigs = "SELECT id, user_id, client_id, type, name, status, credentials, settings, last_sync_at, created_at, updated_at FROM integration_configs"

func scanConfig(row rowScanner) (*integration.Config, error) {
	var config integration.Config
	var typ, credentialsJSON, settingsJSON string
	var lastSyncAt sql.NullTime
	err := row.Scan(&config.ID, &config.UserID, &config.ClientID, &typ, &config.Name, &config.Status,
		&credentialsJSON, &settingsJSON, &lastSyncAt, &config.CreatedAt, &config.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan integration config failed")
	}
	config.Type = integration.Type(typ)
	if lastSyncAt.Valid {
		config.LastSyncAt = &lastSyncAt.Time
	}
	if err := unmarshalMap(credentialsJSON, &config.Credentials); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "deserialize integration credentials failed")
	}
	if err := unmarshalMap(settingsJSON, &config.Settings); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "deserialize integration settings failed")
	}
	return &config, nil
}
