package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/conductor/internal/model"
)

// SaveOrchestration saves or updates an orchestration and its plan.
func (s *SQLiteStore) SaveOrchestration(ctx context.Context, orch *model.Orchestration) error {
	now := time.Now()
	if orch.ID == "" {
		orch.ID = NewID()
	}
	if orch.CreatedAt.IsZero() {
		orch.CreatedAt = now
	}
	orch.UpdatedAt = now

	plan, err := json.Marshal(orch.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestrations (id, task_id, status, status_reason, plan, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id,
			status = excluded.status,
			status_reason = excluded.status_reason,
			plan = excluded.plan,
			updated_at = excluded.updated_at
	`, orch.ID, orch.TaskID, string(orch.Status), orch.StatusReason, string(plan),
		toNanos(orch.CreatedAt), toNanos(orch.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert orchestration: %w", err)
	}
	return nil
}

// GetOrchestration retrieves an orchestration by ID.
func (s *SQLiteStore) GetOrchestration(ctx context.Context, id string) (*model.Orchestration, error) {
	orch := &model.Orchestration{}
	var status, plan string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, status, status_reason, plan, created_at, updated_at
		FROM orchestrations WHERE id = ?
	`, id).Scan(&orch.ID, &orch.TaskID, &status, &orch.StatusReason, &plan, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("orchestration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query orchestration: %w", err)
	}

	orch.Status = model.OrchestrationStatus(status)
	if err := json.Unmarshal([]byte(plan), &orch.Plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	orch.CreatedAt = fromNanos(createdAt)
	orch.UpdatedAt = fromNanos(updatedAt)
	return orch, nil
}

// UpdateOrchestrationStatus updates an orchestration's status and reason.
func (s *SQLiteStore) UpdateOrchestrationStatus(ctx context.Context, id string, status model.OrchestrationStatus, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?
	`, string(status), reason, toNanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update orchestration status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("orchestration %s: %w", id, ErrNotFound)
	}
	return nil
}
