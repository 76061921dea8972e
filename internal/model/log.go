package model

import "time"

// LogLevel classifies execution log entries.
type LogLevel string

const (
	LogDebug   LogLevel = "DEBUG"
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// LogEntry is an append-only observability record for one execution.
// Entries are never used for control flow.
type LogEntry struct {
	ID          int64
	ExecutionID string
	Level       LogLevel
	Message     string
	Data        map[string]any
	CreatedAt   time.Time
}
