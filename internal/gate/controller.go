package gate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/aristath/conductor/internal/completion"
	"github.com/aristath/conductor/internal/engine"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/model"
	"github.com/aristath/conductor/internal/store"
)

// Verdict tokens expected on the first line of a review response.
const (
	VerdictApproved = "APPROVED"
	VerdictRejected = "REJECTED"
)

// Controller is the quality gate between orchestration phases. When the
// last task of a phase completes it creates a single review task for the
// SENTINEL role and runs the review in the background. An APPROVED verdict
// closes the review task; a REJECTED verdict sends every task in the phase
// back to REVIEW and flips the orchestration to REVIEWING.
type Controller struct {
	store     store.Store
	bus       *events.Bus
	completer completion.Completer

	mu sync.Mutex // serializes review-task creation per process
	wg sync.WaitGroup
}

// NewController creates a phase gate controller.
func NewController(st store.Store, bus *events.Bus, completer completion.Completer) *Controller {
	return &Controller{store: st, bus: bus, completer: completer}
}

// Wait blocks until every background review in flight has finished.
func (c *Controller) Wait() { c.wg.Wait() }

// CheckPhaseCompletion tests whether the phase containing the completed
// task is now fully DONE, and if so triggers its review. Tasks outside any
// declared phase, and phases with work remaining, are a no-op.
func (c *Controller) CheckPhaseCompletion(ctx context.Context, completedTaskID, orchestrationID string) error {
	orch, err := c.store.GetOrchestration(ctx, orchestrationID)
	if err != nil {
		return err
	}
	task, err := c.store.GetTask(ctx, completedTaskID)
	if err != nil {
		return err
	}

	phase, ok := orch.Plan.PhaseFor(task.Title)
	if !ok {
		return nil
	}

	done, err := c.phaseDone(ctx, orchestrationID, phase)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	return c.TriggerPhaseReview(ctx, orch, phase)
}

// phaseDone reports whether every task matching the phase's declared
// subtask titles is DONE.
func (c *Controller) phaseDone(ctx context.Context, orchestrationID string, phase *model.Phase) (bool, error) {
	tasks, err := c.store.ListTasksByOrchestration(ctx, orchestrationID)
	if err != nil {
		return false, fmt.Errorf("listing orchestration tasks: %w", err)
	}

	titles := make(map[string]bool, len(phase.SubtaskTitles))
	for _, t := range phase.SubtaskTitles {
		titles[t] = true
	}

	for _, t := range tasks {
		if titles[t.Title] && t.Status != model.TaskDone {
			return false, nil
		}
	}
	return true, nil
}

// TriggerPhaseReview creates the phase's review task if it does not
// already exist and starts the review in the background. Existence is
// checked by title, making the trigger idempotent under repeated or
// concurrent invocations.
func (c *Controller) TriggerPhaseReview(ctx context.Context, orch *model.Orchestration, phase *model.Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	title := engine.ReviewTaskPrefix + phase.Name
	existing, err := c.store.ListTasksByTitle(ctx, orch.ID, title)
	if err != nil {
		return fmt.Errorf("checking for existing review task: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	review := &model.Task{
		ID:              store.NewID(),
		Title:           title,
		Description:     fmt.Sprintf("Quality review of phase %q", phase.Name),
		Status:          model.TaskTodo,
		OrchestrationID: orch.ID,
		AutoCreated:     true,
	}
	if sentinel := c.pickSentinel(ctx); sentinel != nil {
		review.AgentID = sentinel.ID
	}
	if err := c.store.SaveTask(ctx, review); err != nil {
		return fmt.Errorf("creating review task: %w", err)
	}

	log.Printf("phase %q complete, review task %s created", phase.Name, review.ID)

	// The review must not block the triggering execution's return path,
	// and must survive that execution's context.
	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.ExecutePhaseReview(bg, orch, phase, review)
	}()
	return nil
}

func (c *Controller) pickSentinel(ctx context.Context) *model.Agent {
	agents, err := c.store.ListAgentsByRole(ctx, model.RoleSentinel)
	if err != nil {
		log.Printf("WARNING: failed to list sentinel agents: %v", err)
		return nil
	}
	for _, a := range agents {
		if a.IsActive {
			return a
		}
	}
	return nil
}

// ExecutePhaseReview runs the review call and applies the verdict. A
// review that errors or returns no parsable verdict is handled fail-open:
// the review task is marked DONE and the phase stands.
func (c *Controller) ExecutePhaseReview(ctx context.Context, orch *model.Orchestration, phase *model.Phase, review *model.Task) {
	prompt, err := c.buildReviewPrompt(ctx, orch.ID, phase)
	if err != nil {
		log.Printf("WARNING: review of phase %q could not be prepared, keeping phase: %v", phase.Name, err)
		c.approve(ctx, phase, review, "review preparation failed, fail-open")
		return
	}

	resp, err := c.completer.Complete(ctx, completion.Request{
		TaskID:  review.ID,
		AgentID: review.AgentID,
		Role:    model.RoleSentinel,
		Prompt:  prompt,
	})
	if err != nil {
		log.Printf("WARNING: review of phase %q failed, keeping phase: %v", phase.Name, err)
		c.approve(ctx, phase, review, "review call failed, fail-open")
		return
	}

	verdict, reason := parseVerdict(resp.Content)
	switch verdict {
	case VerdictApproved:
		c.approve(ctx, phase, review, reason)
	case VerdictRejected:
		c.reject(ctx, orch, phase, review, reason)
	default:
		log.Printf("WARNING: review of phase %q returned no verdict, keeping phase", phase.Name)
		c.approve(ctx, phase, review, "review inconclusive, fail-open")
	}
}

// buildReviewPrompt lists the phase's completed tasks with their latest
// execution results.
func (c *Controller) buildReviewPrompt(ctx context.Context, orchestrationID string, phase *model.Phase) (string, error) {
	tasks, err := c.store.ListTasksByOrchestration(ctx, orchestrationID)
	if err != nil {
		return "", fmt.Errorf("listing orchestration tasks: %w", err)
	}

	titles := make(map[string]bool, len(phase.SubtaskTitles))
	for _, t := range phase.SubtaskTitles {
		titles[t] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing the completed phase %q.\n\nCompleted tasks:\n", phase.Name)
	for _, t := range tasks {
		if !titles[t.Title] {
			continue
		}
		fmt.Fprintf(&b, "- %s", t.Title)
		if t.Description != "" {
			fmt.Fprintf(&b, ": %s", t.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReply with APPROVED or REJECTED on the first line, followed by your reasoning.")
	return b.String(), nil
}

// parseVerdict extracts the verdict token from the first line of a review
// response. The remainder of the line becomes the reason.
func parseVerdict(content string) (verdict, reason string) {
	first := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		first = content[:i]
	}
	first = strings.TrimSpace(first)

	for _, v := range []string{VerdictApproved, VerdictRejected} {
		if strings.HasPrefix(first, v) {
			reason = strings.TrimSpace(strings.TrimLeft(strings.TrimPrefix(first, v), ":- "))
			return v, reason
		}
	}
	return "", ""
}

// approve records the verdict and closes the review task.
func (c *Controller) approve(ctx context.Context, phase *model.Phase, review *model.Task, reason string) {
	if err := c.store.UpdateTaskStatus(ctx, review.ID, model.TaskDone); err != nil {
		log.Printf("ERROR: failed to close review task %s: %v", review.ID, err)
	}
	body := fmt.Sprintf("Phase %q approved", phase.Name)
	if reason != "" {
		body += ": " + reason
	}
	if err := c.store.AddComment(ctx, review.ID, "gate", body); err != nil {
		log.Printf("ERROR: failed to record review comment: %v", err)
	}

	c.bus.Emit(events.ExecutionCompleted, review.Clone(), map[string]string{
		"taskId": review.ID,
		"phase":  phase.Name,
	})
}

// reject sends every task in the phase back to REVIEW and flips the
// orchestration to REVIEWING.
func (c *Controller) reject(ctx context.Context, orch *model.Orchestration, phase *model.Phase, review *model.Task, reason string) {
	tasks, err := c.store.ListTasksByOrchestration(ctx, orch.ID)
	if err != nil {
		log.Printf("ERROR: failed to list phase tasks for rejection: %v", err)
		return
	}

	titles := make(map[string]bool, len(phase.SubtaskTitles))
	for _, t := range phase.SubtaskTitles {
		titles[t] = true
	}
	for _, t := range tasks {
		if !titles[t.Title] {
			continue
		}
		if err := c.store.UpdateTaskStatus(ctx, t.ID, model.TaskReview); err != nil {
			log.Printf("ERROR: failed to move task %s to REVIEW: %v", t.ID, err)
		}
	}

	statusReason := fmt.Sprintf("phase %q rejected", phase.Name)
	if reason != "" {
		statusReason += ": " + reason
	}
	if err := c.store.UpdateOrchestrationStatus(ctx, orch.ID, model.OrchestrationReviewing, statusReason); err != nil {
		log.Printf("ERROR: failed to set orchestration %s to REVIEWING: %v", orch.ID, err)
	}
	if err := c.store.AddComment(ctx, review.ID, "gate", statusReason); err != nil {
		log.Printf("ERROR: failed to record rejection comment: %v", err)
	}

	c.bus.Emit(events.ExecutionFailed, review.Clone(), map[string]string{
		"taskId": review.ID,
		"phase":  phase.Name,
		"reason": statusReason,
	})
}
