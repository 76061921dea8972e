package model

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskReview     TaskStatus = "REVIEW"
	TaskDone       TaskStatus = "DONE"
	TaskBlocked    TaskStatus = "BLOCKED"
)

// Task represents a unit of work assigned to an agent.
// Tasks are created by planning/decomposition and mutated only by the
// execution engine and the phase gate controller; they are never deleted.
type Task struct {
	ID              string
	Title           string
	Description     string
	Status          TaskStatus
	Priority        int
	OrchestrationID string // empty for standalone tasks
	AgentID         string // empty until an agent is assigned
	AutoCreated     bool
	DependsOn       []string // task IDs this task depends on
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return &cp
}
