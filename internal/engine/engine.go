package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aristath/conductor/internal/completion"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/model"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/store"
)

// ReviewTaskPrefix marks auto-created phase review tasks. Their completion
// never re-triggers the phase gate.
const ReviewTaskPrefix = "[REVIEW] "

// PhaseGate is notified when a successful, non-review execution inside an
// orchestration completes. The gate controller implements this.
type PhaseGate interface {
	CheckPhaseCompletion(ctx context.Context, completedTaskID, orchestrationID string) error
}

// Engine owns execution lifecycles: it creates executions, dispatches
// capabilities or the generic completion fallback, and drives the
// QUEUED/RUNNING/PAUSED/terminal state machine. All business failures are
// captured into the execution result; ExecuteTask only returns an error
// when the task or agent cannot be loaded or is already running.
type Engine struct {
	store     store.Store
	bus       *events.Bus
	registry  *Registry
	completer completion.Completer
	resolver  *scheduler.Resolver
	gate      PhaseGate

	mu     sync.Mutex
	active map[string]*token // executionID -> cancellation token
	byTask map[string]string // taskID -> running executionID
}

// NewEngine creates an execution engine. resolver and gate are optional;
// completer may be nil when every role has registered capabilities.
func NewEngine(st store.Store, bus *events.Bus, registry *Registry, completer completion.Completer) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		store:     st,
		bus:       bus,
		registry:  registry,
		completer: completer,
		active:    make(map[string]*token),
		byTask:    make(map[string]string),
	}
}

// SetResolver wires the dependency resolver used by the completion hook
// and by ExecuteOrchestration.
func (e *Engine) SetResolver(r *scheduler.Resolver) { e.resolver = r }

// SetPhaseGate wires the phase gate controller.
func (e *Engine) SetPhaseGate(g PhaseGate) { e.gate = g }

// ExecuteTask runs one (task, agent) attempt to a settled state. The
// returned execution is COMPLETED, FAILED, PAUSED, or CANCELLED; errors are
// returned only for missing records or a concurrently running task.
func (e *Engine) ExecuteTask(ctx context.Context, taskID, agentID string) (*model.AgentExecution, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	// Cross-process guard for the one-RUNNING-per-task invariant.
	if running, err := e.store.RunningExecutionForTask(ctx, taskID); err != nil {
		return nil, err
	} else if running != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskBusy)
	}

	exec := &model.AgentExecution{
		ID:        store.NewID(),
		TaskID:    taskID,
		AgentID:   agentID,
		Status:    model.ExecutionRunning,
		StartedAt: time.Now(),
	}

	// Acquire the in-process registration before persisting anything, so a
	// losing racer leaves no RUNNING row behind.
	tok, err := e.register(taskID, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	defer e.unregister(taskID, exec.ID)

	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}

	if err := e.store.UpdateTaskStatus(ctx, taskID, model.TaskInProgress); err != nil {
		log.Printf("ERROR: failed to mark task %s in progress: %v", taskID, err)
	}

	meta := map[string]string{"executionId": exec.ID, "taskId": taskID, "agentId": agentID}
	e.bus.Emit(events.ExecutionStarted, exec.Clone(), meta)
	e.bus.Emit(events.AgentBusy, agentID, map[string]string{"agentId": agentID})

	result := e.dispatch(ctx, task, agent, exec, tok)
	return e.settle(ctx, task, agent, exec, tok, result)
}

// ResumeExecution moves a PAUSED execution back to RUNNING and re-enters
// the same dispatch policy.
func (e *Engine) ResumeExecution(ctx context.Context, executionID string) (*model.AgentExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != model.ExecutionPaused {
		return nil, &TransitionError{ExecutionID: executionID, From: exec.Status, Op: "resume"}
	}

	task, err := e.store.GetTask(ctx, exec.TaskID)
	if err != nil {
		return nil, err
	}
	agent, err := e.store.GetAgent(ctx, exec.AgentID)
	if err != nil {
		return nil, err
	}

	tok, err := e.register(exec.TaskID, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", exec.TaskID, err)
	}
	defer e.unregister(exec.TaskID, exec.ID)

	exec.Status = model.ExecutionRunning
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("resuming execution: %w", err)
	}

	e.bus.Emit(events.ExecutionResumed, exec.Clone(), map[string]string{
		"executionId": exec.ID,
		"taskId":      exec.TaskID,
	})

	result := e.dispatch(ctx, task, agent, exec, tok)
	return e.settle(ctx, task, agent, exec, tok, result)
}

// PauseExecution suspends a RUNNING execution. The running capability chain
// observes the pause at its next checkpoint.
func (e *Engine) PauseExecution(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != model.ExecutionRunning {
		return &TransitionError{ExecutionID: executionID, From: exec.Status, Op: "pause"}
	}

	exec.Status = model.ExecutionPaused
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return fmt.Errorf("pausing execution: %w", err)
	}
	if tok := e.tokenFor(executionID); tok != nil {
		tok.requestPause()
	}

	e.bus.Emit(events.ExecutionPaused, exec.Clone(), map[string]string{
		"executionId": executionID,
		"taskId":      exec.TaskID,
	})
	return nil
}

// CancelExecution cancels an execution that has not yet settled.
// Cancellation is cooperative: an in-flight capability call is not killed;
// the chain stops at its next checkpoint.
func (e *Engine) CancelExecution(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return &TransitionError{ExecutionID: executionID, From: exec.Status, Op: "cancel"}
	}

	if tok := e.tokenFor(executionID); tok != nil {
		tok.cancel()
	}

	now := time.Now()
	exec.Status = model.ExecutionCancelled
	exec.CompletedAt = &now
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return fmt.Errorf("cancelling execution: %w", err)
	}

	e.bus.Emit(events.ExecutionCancelled, exec.Clone(), map[string]string{
		"executionId": executionID,
		"taskId":      exec.TaskID,
	})
	return nil
}

// dispatch runs the role's capability chain, or the generic completion
// fallback when no capability is registered. The 10-90% progress budget is
// split evenly across capability steps; the first failure aborts the chain.
func (e *Engine) dispatch(ctx context.Context, task *model.Task, agent *model.Agent, exec *model.AgentExecution, tok *token) Result {
	ec := &Context{ctx: ctx, engine: e, exec: exec, tok: tok}

	caps := e.registry.ForRole(agent.Role)
	if len(caps) == 0 {
		return e.runCompletion(ctx, task, agent, ec)
	}

	ec.UpdateProgress(10)
	step := 80 / len(caps)

	var last Result
	for i, c := range caps {
		// Cooperative checkpoint between capability steps.
		if tok.isCancelled() {
			return Result{Success: false, Error: "cancelled"}
		}
		if tok.isPaused() {
			return Result{Success: false, Error: "paused"}
		}

		last = runCapability(ctx, c, task, ec)
		if !last.Success {
			if last.Error == "" {
				last.Error = fmt.Sprintf("capability %s failed", c.Name())
			}
			return last
		}

		if len(last.Artifacts) > 0 {
			exec.Artifacts = append(exec.Artifacts, last.Artifacts...)
		}
		ec.UpdateProgress(10 + (i+1)*step)
	}
	return last
}

// runCapability executes one capability step, converting a panic into a
// failed result so the engine boundary never throws.
func runCapability(ctx context.Context, c Capability, task *model.Task, ec *Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Success: false, Error: fmt.Sprintf("capability %s panicked: %v", c.Name(), r)}
			ec.Log(model.LogError, res.Error, nil)
		}
	}()
	return c.Execute(ctx, task, ec)
}

// runCompletion is the generic fallback when a role has no capabilities:
// one AI completion call whose prompt is enriched with the agent's prior
// results.
func (e *Engine) runCompletion(ctx context.Context, task *model.Task, agent *model.Agent, ec *Context) Result {
	if e.completer == nil {
		return Result{Success: false, Error: fmt.Sprintf("no capabilities registered for role %s and no completer configured", agent.Role)}
	}

	ec.UpdateProgress(10)

	history, err := e.store.RecentAgentResults(ctx, agent.ID, 5)
	if err != nil {
		log.Printf("WARNING: failed to load history for agent %s: %v", agent.ID, err)
	}

	resp, err := e.completer.Complete(ctx, completion.Request{
		TaskID:  task.ID,
		AgentID: agent.ID,
		Role:    agent.Role,
		Prompt:  completion.BuildTaskPrompt(task, history),
	})
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Result: resp.Content}
}

// settle records the terminal (or suspended) outcome of a dispatch pass.
func (e *Engine) settle(ctx context.Context, task *model.Task, agent *model.Agent, exec *model.AgentExecution, tok *token, result Result) (*model.AgentExecution, error) {
	agentMeta := map[string]string{"agentId": agent.ID}

	// A cancelled execution was already flipped to CANCELLED by
	// CancelExecution; record the trail and stop.
	if tok.isCancelled() {
		if err := e.store.AddComment(ctx, task.ID, "engine", fmt.Sprintf("Execution %s cancelled", exec.ID)); err != nil {
			log.Printf("ERROR: failed to record cancel comment: %v", err)
		}
		e.bus.Emit(events.AgentIdle, agent.ID, agentMeta)
		return e.store.GetExecution(ctx, exec.ID)
	}

	// A paused execution stays suspended; resume re-enters dispatch. The
	// dispatch goroutine may have written its stale RUNNING copy over the
	// pause, so PAUSED is re-persisted here with the latest progress.
	if tok.isPaused() {
		exec.Status = model.ExecutionPaused
		if err := e.store.SaveExecution(ctx, exec); err != nil {
			log.Printf("ERROR: failed to save paused execution %s: %v", exec.ID, err)
		}
		return e.store.GetExecution(ctx, exec.ID)
	}

	now := time.Now()
	meta := map[string]string{"executionId": exec.ID, "taskId": task.ID, "agentId": agent.ID}

	if result.Success {
		exec.Status = model.ExecutionCompleted
		exec.Progress = 100
		exec.Result = result.Result
		exec.CompletedAt = &now
		if err := e.store.SaveExecution(ctx, exec); err != nil {
			log.Printf("ERROR: failed to save completed execution %s: %v", exec.ID, err)
		}
		if err := e.store.UpdateTaskStatus(ctx, task.ID, model.TaskDone); err != nil {
			log.Printf("ERROR: failed to mark task %s done: %v", task.ID, err)
		}
		comment := fmt.Sprintf("Completed by %s (%s): %s", agent.Name, agent.Role, truncateForComment(result.Result))
		if err := e.store.AddComment(ctx, task.ID, "engine", comment); err != nil {
			log.Printf("ERROR: failed to record completion comment: %v", err)
		}

		e.bus.Emit(events.ExecutionCompleted, exec.Clone(), meta)
		e.bus.Emit(events.AgentIdle, agent.ID, agentMeta)

		e.onTaskCompleted(ctx, task)
		return exec, nil
	}

	exec.Status = model.ExecutionFailed
	exec.Error = result.Error
	exec.CompletedAt = &now
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		log.Printf("ERROR: failed to save failed execution %s: %v", exec.ID, err)
	}
	// Task status is deliberately left unchanged on failure.
	comment := fmt.Sprintf("Execution by %s (%s) failed: %s", agent.Name, agent.Role, result.Error)
	if err := e.store.AddComment(ctx, task.ID, "engine", comment); err != nil {
		log.Printf("ERROR: failed to record failure comment: %v", err)
	}

	e.bus.Emit(events.ExecutionFailed, exec.Clone(), meta)
	e.bus.Emit(events.AgentIdle, agent.ID, agentMeta)
	return exec, nil
}

// onTaskCompleted is the completion hook: release dependents through the
// resolver, then let the phase gate check for a finished phase. Review
// tasks never re-trigger the gate.
func (e *Engine) onTaskCompleted(ctx context.Context, task *model.Task) {
	if e.resolver != nil {
		if _, err := e.resolver.OnTaskCompleted(ctx, task.ID); err != nil {
			log.Printf("ERROR: failed to release dependents of task %s: %v", task.ID, err)
		}
	}

	if e.gate == nil || task.OrchestrationID == "" || IsReviewTask(task.Title) {
		return
	}
	if err := e.gate.CheckPhaseCompletion(ctx, task.ID, task.OrchestrationID); err != nil {
		log.Printf("ERROR: phase completion check for task %s: %v", task.ID, err)
	}
}

// IsReviewTask reports whether a task title marks an auto-created phase
// review task.
func IsReviewTask(title string) bool {
	return strings.HasPrefix(title, ReviewTaskPrefix)
}

func truncateForComment(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
