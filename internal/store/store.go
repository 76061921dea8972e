package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/conductor/internal/model"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Comment is a human-readable note attached to a task. The engine records
// one for every terminal execution outcome.
type Comment struct {
	ID        int64
	TaskID    string
	Author    string
	Body      string
	CreatedAt time.Time
}

// Store defines the persistence interface for the orchestration core.
type Store interface {
	// Agents
	SaveAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	ListAgentsByRole(ctx context.Context, role model.AgentRole) ([]*model.Agent, error)

	// Tasks
	SaveTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
	ListTasksByOrchestration(ctx context.Context, orchestrationID string) ([]*model.Task, error)
	ListTasksByTitle(ctx context.Context, orchestrationID, title string) ([]*model.Task, error)
	ListDependents(ctx context.Context, taskID string) ([]*model.Task, error)
	AddComment(ctx context.Context, taskID, author, body string) error
	ListComments(ctx context.Context, taskID string) ([]Comment, error)

	// Executions
	SaveExecution(ctx context.Context, exec *model.AgentExecution) error
	GetExecution(ctx context.Context, id string) (*model.AgentExecution, error)
	RunningExecutionForTask(ctx context.Context, taskID string) (*model.AgentExecution, error)
	RecentAgentResults(ctx context.Context, agentID string, limit int) ([]string, error)

	// Queue
	SaveQueueItem(ctx context.Context, item *model.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)
	ClaimNextQueueItem(ctx context.Context, now time.Time, agentID string) (*model.QueueItem, error)
	QueueCounts(ctx context.Context) (map[model.QueueStatus]int, error)

	// Orchestrations
	SaveOrchestration(ctx context.Context, orch *model.Orchestration) error
	GetOrchestration(ctx context.Context, id string) (*model.Orchestration, error)
	UpdateOrchestrationStatus(ctx context.Context, id string, status model.OrchestrationStatus, reason string) error

	// Execution logs
	AppendLog(ctx context.Context, entry *model.LogEntry) error
	ListLogs(ctx context.Context, executionID string) ([]*model.LogEntry, error)

	// Lifecycle
	Close() error
}

// NewID returns a new unique record identifier.
func NewID() string {
	return uuid.NewString()
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return openSQLite(ctx, connStr)
}

// NewMemoryStore creates an in-memory store for testing. Each call gets its
// own database; the shared cache is scoped by a unique name so concurrent
// tests don't observe each other.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:mem-%s?mode=memory&cache=shared", uuid.NewString())
	return openSQLite(ctx, connStr)
}
