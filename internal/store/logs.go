package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/conductor/internal/model"
)

// AppendLog records an execution log entry. Logs are append-only.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry *model.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	data := ""
	if len(entry.Data) > 0 {
		b, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal log data: %w", err)
		}
		data = string(b)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, level, message, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ExecutionID, string(entry.Level), entry.Message, data, toNanos(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListLogs returns an execution's log entries in append order.
func (s *SQLiteStore) ListLogs(ctx context.Context, executionID string) ([]*model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, level, message, data, created_at
		FROM execution_logs WHERE execution_id = ? ORDER BY id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		entry := &model.LogEntry{}
		var level, data string
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.ExecutionID, &level, &entry.Message, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entry.Level = model.LogLevel(level)
		entry.CreatedAt = fromNanos(createdAt)
		if data != "" {
			if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}
	return entries, nil
}
