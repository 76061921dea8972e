package engine

import (
	"context"
	"log"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/model"
)

// Context is the scoped surface handed into every capability call.
// It binds logging, progress reporting, and human-review requests to one
// execution.
type Context struct {
	ctx    context.Context
	engine *Engine
	exec   *model.AgentExecution
	tok    *token
}

// Log appends a structured entry to the execution's observability trail.
func (c *Context) Log(level model.LogLevel, message string, data map[string]any) {
	entry := &model.LogEntry{
		ExecutionID: c.exec.ID,
		Level:       level,
		Message:     message,
		Data:        data,
	}
	if err := c.engine.store.AppendLog(c.ctx, entry); err != nil {
		log.Printf("ERROR: failed to append execution log for %s: %v", c.exec.ID, err)
	}
}

// UpdateProgress sets the execution's progress percent, clamped to 0-100,
// and emits EXECUTION_PROGRESS.
func (c *Context) UpdateProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	c.exec.Progress = percent
	// A concurrent pause may have flipped the stored status; saving the
	// local RUNNING copy must not undo it.
	if c.tok.isPaused() {
		c.exec.Status = model.ExecutionPaused
	}
	if err := c.engine.store.SaveExecution(c.ctx, c.exec); err != nil {
		log.Printf("ERROR: failed to save progress for execution %s: %v", c.exec.ID, err)
	}

	c.engine.bus.Emit(events.ExecutionProgress, percent, map[string]string{
		"executionId": c.exec.ID,
		"taskId":      c.exec.TaskID,
	})
}

// RequestHumanReview suspends the execution for human attention. This is a
// capability-initiated suspension, distinct from a user pause: it logs a
// WARNING and forces the execution to PAUSED at the next checkpoint.
func (c *Context) RequestHumanReview(reason string) {
	c.Log(model.LogWarning, "human review requested: "+reason, nil)

	c.exec.Status = model.ExecutionPaused
	if err := c.engine.store.SaveExecution(c.ctx, c.exec); err != nil {
		log.Printf("ERROR: failed to pause execution %s: %v", c.exec.ID, err)
	}
	c.tok.requestPause()

	c.engine.bus.Emit(events.ExecutionPaused, c.exec.Clone(), map[string]string{
		"executionId": c.exec.ID,
		"taskId":      c.exec.TaskID,
		"reason":      reason,
	})
}
