package model

import "time"

// ExecutionStatus represents the state of a single execution attempt.
type ExecutionStatus string

const (
	ExecutionQueued    ExecutionStatus = "QUEUED"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionPaused    ExecutionStatus = "PAUSED"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// AgentExecution is one attempt of (task, agent). Created by the execution
// engine when a task starts; terminal states are immutable.
type AgentExecution struct {
	ID          string
	TaskID      string
	AgentID     string
	Status      ExecutionStatus
	Progress    int // percent, 0-100
	Result      string
	Error       string
	Artifacts   []string
	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy of the execution.
func (e *AgentExecution) Clone() *AgentExecution {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Artifacts != nil {
		cp.Artifacts = append([]string(nil), e.Artifacts...)
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
