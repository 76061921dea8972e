package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/conductor/internal/model"
)

// SaveQueueItem saves or updates a queue item. Rows already in a terminal
// state (COMPLETED/FAILED) are never modified.
func (s *SQLiteStore) SaveQueueItem(ctx context.Context, item *model.QueueItem) error {
	now := time.Now()
	if item.ID == "" {
		item.ID = NewID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, task_id, agent_id, priority, scheduled_for, attempts, max_attempts, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			priority = excluded.priority,
			scheduled_for = excluded.scheduled_for,
			attempts = excluded.attempts,
			max_attempts = excluded.max_attempts,
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		WHERE queue_items.status NOT IN ('COMPLETED', 'FAILED')
	`, item.ID, item.TaskID, item.AgentID, item.Priority, toNanosPtr(item.ScheduledFor),
		item.Attempts, item.MaxAttempts, string(item.Status), item.LastError,
		toNanos(item.CreatedAt), toNanos(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert queue item: %w", err)
	}
	return nil
}

const queueColumns = `id, task_id, agent_id, priority, scheduled_for, attempts, max_attempts, status, last_error, created_at, updated_at`

func scanQueueItem(scanner interface{ Scan(...any) error }) (*model.QueueItem, error) {
	item := &model.QueueItem{}
	var status string
	var scheduledFor sql.NullInt64
	var createdAt, updatedAt int64

	err := scanner.Scan(&item.ID, &item.TaskID, &item.AgentID, &item.Priority, &scheduledFor,
		&item.Attempts, &item.MaxAttempts, &status, &item.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.Status = model.QueueStatus(status)
	item.ScheduledFor = fromNanosPtr(scheduledFor)
	item.CreatedAt = fromNanos(createdAt)
	item.UpdatedAt = fromNanos(updatedAt)
	return item, nil
}

// GetQueueItem retrieves a queue item by ID.
func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queue item: %w", err)
	}
	return item, nil
}

// ClaimNextQueueItem atomically claims the best PENDING item whose
// scheduled_for gate has passed: highest priority first, then earliest
// creation time. The PENDING -> PROCESSING flip is a conditional update, so
// two concurrent pollers can never claim the same row. Claiming counts as an
// attempt. Returns (nil, nil) when nothing is claimable.
func (s *SQLiteStore) ClaimNextQueueItem(ctx context.Context, now time.Time, agentID string) (*model.QueueItem, error) {
	for {
		var id string
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM queue_items
			WHERE status = 'PENDING'
			  AND (scheduled_for IS NULL OR scheduled_for <= ?)
			  AND (? = '' OR agent_id = ?)
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
		`, toNanos(now), agentID, agentID).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select claimable item: %w", err)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE queue_items
			SET status = 'PROCESSING', attempts = attempts + 1, updated_at = ?
			WHERE id = ? AND status = 'PENDING'
		`, toNanos(now), id)
		if err != nil {
			return nil, fmt.Errorf("failed to claim queue item: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 1 {
			return s.GetQueueItem(ctx, id)
		}
		// Lost the claim race to another poller; pick the next candidate.
	}
}

// QueueCounts returns the number of items per queue status.
func (s *SQLiteStore) QueueCounts(ctx context.Context) (map[model.QueueStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM queue_items GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue counts: %w", err)
	}
	defer rows.Close()

	counts := map[model.QueueStatus]int{
		model.QueuePending:    0,
		model.QueueProcessing: 0,
		model.QueueCompleted:  0,
		model.QueueFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[model.QueueStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}
