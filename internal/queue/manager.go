package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/model"
	"github.com/aristath/conductor/internal/store"
)

// TaskExecutor runs one (task, agent) work item. The execution engine
// implements this; a returned error or a FAILED execution counts as a
// failed attempt, while PAUSED and CANCELLED park the item.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, taskID, agentID string) (*model.AgentExecution, error)
}

// Options configures a single enqueue.
type Options struct {
	Priority     int
	ScheduledFor *time.Time // not-before gate; nil runs immediately
	MaxAttempts  int        // defaults to DefaultMaxAttempts
}

// DefaultMaxAttempts is the retry budget applied when Options leaves it unset.
const DefaultMaxAttempts = 3

// Manager owns the durable priority queue of (task, agent) work items.
// Items are drained strictly by (priority desc, createdAt asc) among those
// whose scheduled_for gate has passed.
type Manager struct {
	store    store.Store
	bus      *events.Bus
	executor TaskExecutor
	now      func() time.Time
}

// NewManager creates a queue manager. The executor may be set later via
// SetExecutor to break the construction cycle with the engine.
func NewManager(st store.Store, bus *events.Bus) *Manager {
	return &Manager{
		store: st,
		bus:   bus,
		now:   time.Now,
	}
}

// SetExecutor wires the task executor used by Drain.
func (m *Manager) SetExecutor(e TaskExecutor) {
	m.executor = e
}

// Enqueue creates a PENDING queue item and emits QUEUE_ADDED.
func (m *Manager) Enqueue(ctx context.Context, taskID, agentID string, opts Options) (*model.QueueItem, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	item := &model.QueueItem{
		TaskID:       taskID,
		AgentID:      agentID,
		Priority:     opts.Priority,
		ScheduledFor: opts.ScheduledFor,
		MaxAttempts:  opts.MaxAttempts,
		Status:       model.QueuePending,
	}
	if err := m.store.SaveQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", taskID, err)
	}

	m.bus.Emit(events.QueueAdded, item, map[string]string{
		"taskId":  taskID,
		"agentId": agentID,
	})
	return item, nil
}

// ClaimNext claims the best eligible PENDING item, or nil when nothing is
// claimable. agentFilter narrows the claim to one agent; "" claims any.
// Claiming flips the item to PROCESSING and counts an attempt.
func (m *Manager) ClaimNext(ctx context.Context, agentFilter string) (*model.QueueItem, error) {
	return m.store.ClaimNextQueueItem(ctx, m.now(), agentFilter)
}

// Drain repeatedly claims and executes items until the queue yields nothing
// or the context is cancelled. Returns the number of items processed.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	if m.executor == nil {
		return 0, fmt.Errorf("queue manager has no executor")
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		item, err := m.ClaimNext(ctx, "")
		if err != nil {
			return processed, err
		}
		if item == nil {
			return processed, nil
		}

		m.process(ctx, item)
		processed++
	}
}

// process runs one claimed item through the executor and applies the
// retry bookkeeping: COMPLETED on success, parked on suspension, PENDING
// while attempts remain, FAILED once the attempt budget is exhausted.
func (m *Manager) process(ctx context.Context, item *model.QueueItem) {
	exec, err := m.executor.ExecuteTask(ctx, item.TaskID, item.AgentID)

	if err == nil && exec != nil && exec.Status == model.ExecutionCompleted {
		item.Status = model.QueueCompleted
		item.LastError = ""
		if saveErr := m.store.SaveQueueItem(ctx, item); saveErr != nil {
			log.Printf("ERROR: failed to complete queue item %s: %v", item.ID, saveErr)
			return
		}
		m.bus.Emit(events.QueueProcessed, item, map[string]string{
			"taskId":  item.TaskID,
			"agentId": item.AgentID,
		})
		return
	}

	// A paused or cancelled execution is a deliberate suspension, not a
	// failed attempt. The item stays parked in PROCESSING; resuming or
	// cancelling the execution owns what happens next.
	if err == nil && exec != nil &&
		(exec.Status == model.ExecutionPaused || exec.Status == model.ExecutionCancelled) {
		log.Printf("queue item %s parked: execution %s is %s", item.ID, exec.ID, exec.Status)
		return
	}

	switch {
	case err != nil:
		item.LastError = err.Error()
	case exec != nil && exec.Error != "":
		item.LastError = exec.Error
	default:
		item.LastError = "execution did not complete"
	}

	if item.Attempts >= item.MaxAttempts {
		item.Status = model.QueueFailed
		log.Printf("WARNING: queue item %s failed after %d attempts: %s", item.ID, item.Attempts, item.LastError)
	} else {
		// Back to PENDING; the next drain pass retries it.
		item.Status = model.QueuePending
	}
	if saveErr := m.store.SaveQueueItem(ctx, item); saveErr != nil {
		log.Printf("ERROR: failed to requeue item %s: %v", item.ID, saveErr)
	}
}

// Status returns aggregate item counts per queue state.
func (m *Manager) Status(ctx context.Context) (map[model.QueueStatus]int, error) {
	return m.store.QueueCounts(ctx)
}
