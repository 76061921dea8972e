package engine

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/conductor/internal/model"
)

// DefaultConcurrency bounds how many executions an orchestration run
// drives in parallel.
const DefaultConcurrency = 2

// ExecuteOrchestration drives an orchestration's tasks to completion in
// dependency order, running at most limit executions concurrently. Tasks
// are executed in waves: each wave runs every not-yet-attempted ready
// task, and finishing a wave can unblock the next. A failed task keeps
// its status and is not retried within this run.
func (e *Engine) ExecuteOrchestration(ctx context.Context, orchestrationID string, limit int) error {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	orch, err := e.store.GetOrchestration(ctx, orchestrationID)
	if err != nil {
		return err
	}
	if e.resolver == nil {
		return fmt.Errorf("orchestration %s: no resolver configured", orchestrationID)
	}

	orch.Status = model.OrchestrationExecuting
	if err := e.store.SaveOrchestration(ctx, orch); err != nil {
		return fmt.Errorf("marking orchestration executing: %w", err)
	}

	attempted := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ready, err := e.resolver.ReadyTasks(ctx, orchestrationID)
		if err != nil {
			return fmt.Errorf("resolving ready tasks: %w", err)
		}

		wave := make([]*model.Task, 0, len(ready))
		for _, t := range ready {
			if attempted[t.ID] {
				continue
			}
			attempted[t.ID] = true
			if t.AgentID == "" {
				log.Printf("WARNING: task %s (%s) is ready but has no assigned agent, skipping", t.ID, t.Title)
				continue
			}
			wave = append(wave, t)
		}
		if len(wave) == 0 {
			break
		}

		e.runWave(ctx, wave, limit)
	}

	return e.finishOrchestration(ctx, orchestrationID)
}

// runWave executes one wave of tasks through a pull-based worker pool.
// Execution failures are recorded on the execution itself and do not
// abort the wave.
func (e *Engine) runWave(ctx context.Context, wave []*model.Task, limit int) {
	taskCh := make(chan *model.Task)

	g, ctx := errgroup.WithContext(ctx)
	workers := limit
	if workers > len(wave) {
		workers = len(wave)
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for t := range taskCh {
				if _, err := e.ExecuteTask(ctx, t.ID, t.AgentID); err != nil {
					log.Printf("ERROR: executing task %s: %v", t.ID, err)
				}
			}
			return nil
		})
	}

	for _, t := range wave {
		taskCh <- t
	}
	close(taskCh)

	if err := g.Wait(); err != nil {
		log.Printf("ERROR: orchestration wave: %v", err)
	}
}

// finishOrchestration marks the orchestration COMPLETED once every task is
// DONE. If tasks remain, the status set by executions or the phase gate
// (EXECUTING, REVIEWING, FAILED) is left in place.
func (e *Engine) finishOrchestration(ctx context.Context, orchestrationID string) error {
	tasks, err := e.store.ListTasksByOrchestration(ctx, orchestrationID)
	if err != nil {
		return fmt.Errorf("listing orchestration tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Status != model.TaskDone {
			return nil
		}
	}

	orch, err := e.store.GetOrchestration(ctx, orchestrationID)
	if err != nil {
		return err
	}
	if orch.Status != model.OrchestrationExecuting {
		return nil
	}

	orch.Status = model.OrchestrationCompleted
	if err := e.store.SaveOrchestration(ctx, orch); err != nil {
		return fmt.Errorf("marking orchestration completed: %w", err)
	}
	return nil
}
