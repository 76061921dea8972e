package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/aristath/conductor/internal/model"
	"github.com/aristath/conductor/internal/queue"
	"github.com/aristath/conductor/internal/store"
)

// Enqueuer hands newly unblocked tasks to the queue manager.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID, agentID string, opts queue.Options) (*model.QueueItem, error)
}

// Resolver computes which tasks in an orchestration are unblocked and
// re-evaluates downstream tasks when one completes.
type Resolver struct {
	store store.Store
	queue Enqueuer // nil disables auto-enqueue on completion
}

// NewResolver creates a dependency resolver. queue may be nil when the
// caller only needs ReadyTasks.
func NewResolver(st store.Store, q Enqueuer) *Resolver {
	return &Resolver{store: st, queue: q}
}

// ReadyTasks returns the tasks in an orchestration whose full dependency set
// is DONE and whose own status is TODO.
func (r *Resolver) ReadyTasks(ctx context.Context, orchestrationID string) ([]*model.Task, error) {
	tasks, err := r.store.ListTasksByOrchestration(ctx, orchestrationID)
	if err != nil {
		return nil, fmt.Errorf("listing orchestration tasks: %w", err)
	}

	byID := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var ready []*model.Task
	for _, t := range tasks {
		if t.Status != model.TaskTodo {
			continue
		}
		ok, err := r.dependenciesSatisfied(ctx, t, byID)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// OnTaskCompleted re-evaluates every task that depends on the completed task
// and enqueues any that are now fully satisfied. This is the mechanism by
// which completing one task transitively unlocks a chain.
func (r *Resolver) OnTaskCompleted(ctx context.Context, taskID string) ([]*model.Task, error) {
	dependents, err := r.store.ListDependents(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing dependents of %s: %w", taskID, err)
	}

	var unlocked []*model.Task
	for _, t := range dependents {
		if t.Status != model.TaskTodo {
			continue
		}
		ok, err := r.dependenciesSatisfied(ctx, t, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		unlocked = append(unlocked, t)

		if r.queue == nil {
			continue
		}
		if t.AgentID == "" {
			log.Printf("WARNING: task %s (%s) is unblocked but has no assigned agent, skipping enqueue", t.ID, t.Title)
			continue
		}
		if _, err := r.queue.Enqueue(ctx, t.ID, t.AgentID, queue.Options{Priority: t.Priority}); err != nil {
			return unlocked, fmt.Errorf("enqueue unblocked task %s: %w", t.ID, err)
		}
	}
	return unlocked, nil
}

// dependenciesSatisfied reports whether every dependency of the task is DONE.
// byID is an optional prefetched cache; misses fall back to the store.
func (r *Resolver) dependenciesSatisfied(ctx context.Context, task *model.Task, byID map[string]*model.Task) (bool, error) {
	for _, depID := range task.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			var err error
			dep, err = r.store.GetTask(ctx, depID)
			if err != nil {
				return false, fmt.Errorf("loading dependency %s: %w", depID, err)
			}
		}
		if dep.Status != model.TaskDone {
			return false, nil
		}
	}
	return true, nil
}
