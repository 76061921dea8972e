package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/conductor/internal/model"
)

// SaveExecution saves or updates an execution attempt. A row already in a
// terminal state is never modified; terminal states are immutable.
func (s *SQLiteStore) SaveExecution(ctx context.Context, exec *model.AgentExecution) error {
	now := time.Now()
	if exec.ID == "" {
		exec.ID = NewID()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = now
	}
	exec.UpdatedAt = now

	artifacts, err := json.Marshal(exec.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, agent_id, status, progress, result, error, artifacts, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			result = excluded.result,
			error = excluded.error,
			artifacts = excluded.artifacts,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		WHERE executions.status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
	`, exec.ID, exec.TaskID, exec.AgentID, string(exec.Status), exec.Progress,
		exec.Result, exec.Error, string(artifacts), toNanos(exec.StartedAt),
		toNanosPtr(exec.CompletedAt), toNanos(exec.CreatedAt), toNanos(exec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert execution: %w", err)
	}
	return nil
}

const executionColumns = `id, task_id, agent_id, status, progress, result, error, artifacts, started_at, completed_at, created_at, updated_at`

func scanExecution(scanner interface{ Scan(...any) error }) (*model.AgentExecution, error) {
	exec := &model.AgentExecution{}
	var status, artifacts string
	var startedAt, createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := scanner.Scan(&exec.ID, &exec.TaskID, &exec.AgentID, &status, &exec.Progress,
		&exec.Result, &exec.Error, &artifacts, &startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	exec.Status = model.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(artifacts), &exec.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
	}
	exec.StartedAt = fromNanos(startedAt)
	exec.CompletedAt = fromNanosPtr(completedAt)
	exec.CreatedAt = fromNanos(createdAt)
	exec.UpdatedAt = fromNanos(updatedAt)
	return exec, nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.AgentExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	return exec, nil
}

// RunningExecutionForTask returns the RUNNING execution for a task, or nil
// if none exists. At most one execution per task may be RUNNING.
func (s *SQLiteStore) RunningExecutionForTask(ctx context.Context, taskID string) (*model.AgentExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE task_id = ? AND status = 'RUNNING'
		ORDER BY created_at DESC LIMIT 1
	`, taskID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query running execution: %w", err)
	}
	return exec, nil
}

// RecentAgentResults returns the results of an agent's most recent completed
// executions, newest first. Used to enrich generic completion prompts.
func (s *SQLiteStore) RecentAgentResults(ctx context.Context, agentID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT result FROM executions
		WHERE agent_id = ? AND status = 'COMPLETED' AND result != ''
		ORDER BY updated_at DESC, id DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent results: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}
