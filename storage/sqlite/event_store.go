package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"conductor/eventing"
)

// EventStore 事件存储的 SQLite 实现
//
// 追加通过事务内版本比较保证同聚合版本严格 +1，
// (aggregate_id, version) 唯一索引兜底并发写入。
type EventStore struct {
	db *sql.DB
}

// NewEventStore 创建 SQLite 事件存储
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Append 追加单个事件
func (s *EventStore) Append(ctx context.Context, event *eventing.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	dataJSON, err := json.Marshal(event.EventData)
	if err != nil {
		return eventing.NewStoreFailedError("serialize event data failed", err)
	}
	metadataJSON, err := marshalMap(event.Metadata)
	if err != nil {
		return eventing.NewStoreFailedError("serialize event metadata failed", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eventing.NewStoreFailedError("begin transaction failed", err)
	}
	defer tx.Rollback()

	var current uint64
	row := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?", event.AggregateID)
	if err := row.Scan(&current); err != nil {
		return eventing.NewStoreFailedError("query current version failed", err)
	}
	if event.Version != current+1 {
		return eventing.NewConflictError(event.AggregateID, current+1, event.Version)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO events
		(id, aggregate_id, aggregate_type, event_type, event_data, version, timestamp, user_id, correlation_id, causation_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AggregateID, event.AggregateType, event.EventType, string(dataJSON),
		event.Version, event.Timestamp, event.UserID, event.CorrelationID, event.CausationID, string(metadataJSON))
	if err != nil {
		if isDuplicateKeyError(err) {
			return eventing.NewConflictError(event.AggregateID, current+1, event.Version)
		}
		return eventing.NewStoreFailedError("insert event failed", err)
	}
	if err := tx.Commit(); err != nil {
		return eventing.NewStoreFailedError("commit transaction failed", err)
	}
	return nil
}

// LoadByAggregate 按版本号升序加载聚合历史
func (s *EventStore) LoadByAggregate(ctx context.Context, aggregateID string, fromVersion uint64) ([]eventing.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+
		" WHERE aggregate_id = ? AND version >= ? ORDER BY version ASC", aggregateID, fromVersion)
	if err != nil {
		return nil, eventing.NewStoreFailedError("load events by aggregate failed", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LoadByType 按时间戳降序加载某类型事件
func (s *EventStore) LoadByType(ctx context.Context, eventType string, limit int) ([]eventing.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectEvents+
		" WHERE event_type = ? ORDER BY timestamp DESC LIMIT ?", eventType, limit)
	if err != nil {
		return nil, eventing.NewStoreFailedError("load events by type failed", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LoadByCorrelation 按时间戳升序加载因果链事件
func (s *EventStore) LoadByCorrelation(ctx context.Context, correlationID string) ([]eventing.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+
		" WHERE correlation_id = ? ORDER BY timestamp ASC", correlationID)
	if err != nil {
		return nil, eventing.NewStoreFailedError("load events by correlation failed", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestVersion 返回聚合当前版本号
func (s *EventStore) LatestVersion(ctx context.Context, aggregateID string) (uint64, error) {
	var current uint64
	row := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?", aggregateID)
	if err := row.Scan(&current); err != nil {
		return 0, eventing.NewStoreFailedError("query latest version failed", err)
	}
	return current, nil
}

const selectEvents = "SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, timestamp, user_id, correlation_id, causation_id, metadata FROM events"

func scanEvents(rows *sql.Rows) ([]eventing.Event, error) {
	var events []eventing.Event
	for rows.Next() {
		var evt eventing.Event
		var dataJSON, metadataJSON string
		err := rows.Scan(&evt.ID, &evt.AggregateID, &evt.AggregateType, &evt.EventType, &dataJSON,
			&evt.Version, &evt.Timestamp, &evt.UserID, &evt.CorrelationID, &evt.CausationID, &metadataJSON)
		if err != nil {
			return nil, eventing.NewStoreFailedError("scan event row failed", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &evt.EventData); err != nil {
			return nil, eventing.NewStoreFailedError("deserialize event data failed", err)
		}
		if err := unmarshalMap(metadataJSON, &evt.Metadata); err != nil {
			return nil, eventing.NewStoreFailedError("deserialize event metadata failed", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, eventing.NewStoreFailedError("iterate event rows failed", err)
	}
	return events, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMap(raw string, target *map[string]any) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(raw), target)
}
