package model

import "time"

// QueueStatus represents the state of a scheduled work item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueCompleted  QueueStatus = "COMPLETED"
	QueueFailed     QueueStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueCompleted || s == QueueFailed
}

// QueueItem is a scheduled (task, agent) work item owned by the queue manager.
// Items move PENDING -> PROCESSING -> {COMPLETED | PENDING (retry) | FAILED}.
type QueueItem struct {
	ID           string
	TaskID       string
	AgentID      string
	Priority     int
	ScheduledFor *time.Time // not-before gate; nil means immediately eligible
	Attempts     int
	MaxAttempts  int
	Status       QueueStatus
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
