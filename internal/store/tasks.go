package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/conductor/internal/model"
)

// SaveTask saves or updates a task and its dependency edges.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *model.Task) error {
	now := time.Now()
	if task.ID == "" {
		task.ID = NewID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, orchestration_id, agent_id, auto_created, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			orchestration_id = excluded.orchestration_id,
			agent_id = excluded.agent_id,
			auto_created = excluded.auto_created,
			updated_at = excluded.updated_at
	`, task.ID, task.Title, task.Description, string(task.Status), task.Priority,
		task.OrchestrationID, task.AgentID, boolToInt(task.AutoCreated),
		toNanos(task.CreatedAt), toNanos(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	// Replace dependency edges
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, task.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for _, depID := range task.DependsOn {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id)
			VALUES (?, ?)
		`, task.ID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const taskColumns = `id, title, description, status, priority, orchestration_id, agent_id, auto_created, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	task := &model.Task{}
	var status string
	var autoCreated int
	var createdAt, updatedAt int64

	err := scanner.Scan(&task.ID, &task.Title, &task.Description, &status, &task.Priority,
		&task.OrchestrationID, &task.AgentID, &autoCreated, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.Status = model.TaskStatus(status)
	task.AutoCreated = autoCreated != 0
	task.CreatedAt = fromNanos(createdAt)
	task.UpdatedAt = fromNanos(updatedAt)
	return task, nil
}

// GetTask retrieves a task by ID, including its dependency IDs.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	if err := s.loadDependencies(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTaskStatus updates the status of a task.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), toNanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListTasksByOrchestration returns all tasks in an orchestration with their dependencies.
func (s *SQLiteStore) ListTasksByOrchestration(ctx context.Context, orchestrationID string) ([]*model.Task, error) {
	return s.listTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE orchestration_id = ? ORDER BY created_at, id
	`, orchestrationID)
}

// ListTasksByTitle returns every task in an orchestration with the given title.
func (s *SQLiteStore) ListTasksByTitle(ctx context.Context, orchestrationID, title string) ([]*model.Task, error) {
	return s.listTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE orchestration_id = ? AND title = ? ORDER BY created_at, id
	`, orchestrationID, title)
}

// ListDependents returns every task that lists the given task as a dependency.
func (s *SQLiteStore) ListDependents(ctx context.Context, taskID string) ([]*model.Task, error) {
	return s.listTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE id IN (SELECT task_id FROM task_dependencies WHERE depends_on_id = ?)
		ORDER BY created_at, id
	`, taskID)
}

// listTasks runs a task query, fully draining the result set before loading
// dependency edges. The store runs on a single connection, so interleaving a
// dependency query with an open cursor would deadlock.
func (s *SQLiteStore) listTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	for _, task := range tasks {
		if err := s.loadDependencies(ctx, task); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, task *model.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id
	`, task.ID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	task.DependsOn = []string{}
	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		task.DependsOn = append(task.DependsOn, depID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}
	return nil
}

// AddComment records a human-readable note on a task.
func (s *SQLiteStore) AddComment(ctx context.Context, taskID, author, body string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_comments (task_id, author, body, created_at)
		VALUES (?, ?, ?, ?)
	`, taskID, author, body, toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// ListComments returns a task's comments in insertion order.
func (s *SQLiteStore) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, author, body, created_at
		FROM task_comments WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var c Comment
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &c.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.CreatedAt = fromNanos(createdAt)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
