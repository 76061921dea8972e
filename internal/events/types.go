package events

import "time"

// Type identifies the kind of an event.
type Type string

// Wildcard matches every event type in On.
const Wildcard Type = "*"

// Event type constants.
const (
	ExecutionStarted   Type = "EXECUTION_STARTED"
	ExecutionProgress  Type = "EXECUTION_PROGRESS"
	ExecutionCompleted Type = "EXECUTION_COMPLETED"
	ExecutionFailed    Type = "EXECUTION_FAILED"
	ExecutionPaused    Type = "EXECUTION_PAUSED"
	ExecutionResumed   Type = "EXECUTION_RESUMED"
	ExecutionCancelled Type = "EXECUTION_CANCELLED"
	QueueAdded         Type = "QUEUE_ADDED"
	QueueProcessed     Type = "QUEUE_PROCESSED"
	AgentIdle          Type = "AGENT_IDLE"
	AgentBusy          Type = "AGENT_BUSY"
)

// Event is a single emitted notification. Data carries the typed payload,
// Meta carries small string annotations (task IDs, agent IDs, reasons).
type Event struct {
	Type      Type
	Data      any
	Meta      map[string]string
	Timestamp time.Time
}
