package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/conductor/internal/completion"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/model"
	"github.com/aristath/conductor/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store, *events.Bus) {
	t.Helper()
	st, err := store.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(100)
	t.Cleanup(bus.Close)

	e := NewEngine(st, bus, NewRegistry(), nil)
	return e, st, bus
}

func seedAgent(t *testing.T, st store.Store, role model.AgentRole) *model.Agent {
	t.Helper()
	a := &model.Agent{ID: store.NewID(), Name: "test-" + string(role), Role: role, IsActive: true}
	if err := st.SaveAgent(context.Background(), a); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	return a
}

func seedTask(t *testing.T, st store.Store, title string, agentID string) *model.Task {
	t.Helper()
	task := &model.Task{ID: store.NewID(), Title: title, Status: model.TaskTodo, AgentID: agentID}
	if err := st.SaveTask(context.Background(), task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	return task
}

func okCapability(name string, artifacts ...string) Capability {
	return CapabilityFunc{
		CapName: name,
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			return Result{Success: true, Result: name + " done", Artifacts: artifacts}
		},
	}
}

func TestExecuteTaskCapabilityChainSuccess(t *testing.T) {
	e, st, bus := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleArchitecton)
	task := seedTask(t, st, "build the api", agent.ID)

	e.registry.Register(model.RoleArchitecton, okCapability("scaffold", "main.go"))
	e.registry.Register(model.RoleArchitecton, okCapability("implement", "api.go"))

	var progress []int
	bus.On(events.ExecutionProgress, func(ev events.Event) {
		progress = append(progress, ev.Data.(int))
	})
	var types []events.Type
	bus.On(events.Wildcard, func(ev events.Event) { types = append(types, ev.Type) })

	exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != model.ExecutionCompleted {
		t.Fatalf("expected COMPLETED, got %s", exec.Status)
	}
	if exec.Progress != 100 {
		t.Errorf("expected progress 100, got %d", exec.Progress)
	}
	if len(exec.Artifacts) != 2 {
		t.Errorf("expected 2 artifacts, got %v", exec.Artifacts)
	}

	// 10%, then 10 + 1*40 and 10 + 2*40 from the two-step budget.
	want := []int{10, 50, 90}
	if len(progress) != len(want) {
		t.Fatalf("expected progress %v, got %v", want, progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d]: expected %d, got %d", i, want[i], progress[i])
		}
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != model.TaskDone {
		t.Errorf("expected task DONE, got %s", got.Status)
	}

	comments, err := st.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 || !strings.Contains(comments[0].Body, "Completed by") {
		t.Errorf("expected a completion comment, got %v", comments)
	}

	if types[0] != events.ExecutionStarted || types[1] != events.AgentBusy {
		t.Errorf("expected STARTED then BUSY first, got %v", types)
	}
	last := types[len(types)-2:]
	if last[0] != events.ExecutionCompleted || last[1] != events.AgentIdle {
		t.Errorf("expected COMPLETED then IDLE last, got %v", types)
	}
}

func TestExecuteTaskCapabilityFailureAbortsChain(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RolePixel)
	task := seedTask(t, st, "style the page", agent.ID)

	ranSecond := false
	e.registry.Register(model.RolePixel, CapabilityFunc{
		CapName: "lint",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			return Result{Success: false, Error: "lint errors found"}
		},
	})
	e.registry.Register(model.RolePixel, CapabilityFunc{
		CapName: "format",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			ranSecond = true
			return Result{Success: true}
		},
	})

	exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != model.ExecutionFailed {
		t.Fatalf("expected FAILED, got %s", exec.Status)
	}
	if exec.Error != "lint errors found" {
		t.Errorf("unexpected error: %q", exec.Error)
	}
	if ranSecond {
		t.Error("second capability must not run after a failure")
	}

	// Task status is left where the start transition put it.
	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != model.TaskInProgress {
		t.Errorf("expected task IN_PROGRESS, got %s", got.Status)
	}

	comments, _ := st.ListComments(ctx, task.ID)
	if len(comments) != 1 || !strings.Contains(comments[0].Body, "failed") {
		t.Errorf("expected a failure comment, got %v", comments)
	}
}

func TestExecuteTaskPanicBecomesFailedResult(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleSentinel)
	task := seedTask(t, st, "review code", agent.ID)

	e.registry.Register(model.RoleSentinel, CapabilityFunc{
		CapName: "explode",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			panic("boom")
		},
	})

	exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
	if err != nil {
		t.Fatalf("execute must not propagate the panic: %v", err)
	}
	if exec.Status != model.ExecutionFailed {
		t.Fatalf("expected FAILED, got %s", exec.Status)
	}
	if !strings.Contains(exec.Error, "panicked") {
		t.Errorf("expected panic captured in error, got %q", exec.Error)
	}
}

func TestExecuteTaskCompletionFallback(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleMaestro)
	task := seedTask(t, st, "write release notes", agent.ID)

	var gotPrompt string
	e.completer = completion.Func(func(ctx context.Context, req completion.Request) (completion.Response, error) {
		gotPrompt = req.Prompt
		return completion.Response{Content: "release notes drafted"}, nil
	})

	exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != model.ExecutionCompleted {
		t.Fatalf("expected COMPLETED, got %s", exec.Status)
	}
	if exec.Result != "release notes drafted" {
		t.Errorf("unexpected result: %q", exec.Result)
	}
	if !strings.Contains(gotPrompt, "write release notes") {
		t.Errorf("prompt missing task title: %q", gotPrompt)
	}
}

func TestExecuteTaskNotFound(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleMaestro)

	if _, err := e.ExecuteTask(ctx, "missing-task", agent.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing task, got %v", err)
	}

	task := seedTask(t, st, "orphan", agent.ID)
	if _, err := e.ExecuteTask(ctx, task.ID, "missing-agent"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing agent, got %v", err)
	}
}

func TestPauseRequiresRunning(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	now := time.Now()
	exec := &model.AgentExecution{
		TaskID:      "task-x",
		AgentID:     "agent-x",
		Status:      model.ExecutionCompleted,
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := st.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("save execution: %v", err)
	}

	err := e.PauseExecution(ctx, exec.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.Op != "pause" {
		t.Errorf("expected pause transition error, got %v", err)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec := &model.AgentExecution{
		TaskID:    "task-x",
		AgentID:   "agent-x",
		Status:    model.ExecutionRunning,
		StartedAt: time.Now(),
	}
	if err := st.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("save execution: %v", err)
	}

	if _, err := e.ResumeExecution(ctx, exec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestResumeReentersDispatch(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleArchitecton)
	task := seedTask(t, st, "migrate schema", agent.ID)

	exec := &model.AgentExecution{
		TaskID:    task.ID,
		AgentID:   agent.ID,
		Status:    model.ExecutionPaused,
		StartedAt: time.Now(),
	}
	if err := st.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("save execution: %v", err)
	}

	ran := false
	e.registry.Register(model.RoleArchitecton, CapabilityFunc{
		CapName: "migrate",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			ran = true
			return Result{Success: true, Result: "migrated"}
		},
	})

	resumed, err := e.ResumeExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !ran {
		t.Error("expected dispatch to re-run on resume")
	}
	if resumed.Status != model.ExecutionCompleted {
		t.Errorf("expected COMPLETED after resume, got %s", resumed.Status)
	}

	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskDone {
		t.Errorf("expected task DONE, got %s", got.Status)
	}
}

func TestCancelIsCooperative(t *testing.T) {
	e, st, bus := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleMaestro)
	task := seedTask(t, st, "long running", agent.ID)

	ranSecond := false
	e.registry.Register(model.RoleMaestro, CapabilityFunc{
		CapName: "first",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			if err := e.CancelExecution(ctx, ec.exec.ID); err != nil {
				t.Errorf("cancel: %v", err)
			}
			return Result{Success: true}
		},
	})
	e.registry.Register(model.RoleMaestro, CapabilityFunc{
		CapName: "second",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			ranSecond = true
			return Result{Success: true}
		},
	})

	var cancelled int
	bus.On(events.ExecutionCancelled, func(ev events.Event) { cancelled++ })

	exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != model.ExecutionCancelled {
		t.Fatalf("expected CANCELLED, got %s", exec.Status)
	}
	if ranSecond {
		t.Error("chain must stop at the checkpoint after cancellation")
	}
	if cancelled != 1 {
		t.Errorf("expected one EXECUTION_CANCELLED event, got %d", cancelled)
	}

	// Cancelling a settled execution is rejected.
	if err := e.CancelExecution(ctx, exec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second cancel, got %v", err)
	}
}

func TestPauseWhileCapabilityRunning(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleArchitecton)
	task := seedTask(t, st, "slow migration", agent.ID)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.registry.Register(model.RoleArchitecton, CapabilityFunc{
		CapName: "migrate",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			once.Do(func() {
				close(started)
				<-release
			})
			return Result{Success: true}
		},
	})
	ranSecond := false
	e.registry.Register(model.RoleArchitecton, CapabilityFunc{
		CapName: "verify",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			ranSecond = true
			return Result{Success: true}
		},
	})

	resultCh := make(chan *model.AgentExecution, 1)
	go func() {
		exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
		if err != nil {
			t.Errorf("execute: %v", err)
		}
		resultCh <- exec
	}()

	<-started
	running, err := st.RunningExecutionForTask(ctx, task.ID)
	if err != nil || running == nil {
		t.Fatalf("expected a running execution, got %+v (%v)", running, err)
	}
	if err := e.PauseExecution(ctx, running.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// The in-flight capability finishes after the pause landed; its stale
	// RUNNING copy must not overwrite the stored PAUSED status.
	close(release)
	exec := <-resultCh
	if exec.Status != model.ExecutionPaused {
		t.Fatalf("expected PAUSED after user pause, got %s", exec.Status)
	}
	if ranSecond {
		t.Error("chain must suspend at the checkpoint after a pause")
	}

	stored, err := st.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if stored.Status != model.ExecutionPaused {
		t.Fatalf("stored status: expected PAUSED, got %s", stored.Status)
	}
	if blocked, err := st.RunningExecutionForTask(ctx, task.ID); err != nil || blocked != nil {
		t.Errorf("expected no RUNNING execution after pause, got %+v (%v)", blocked, err)
	}

	resumed, err := e.ResumeExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("resume after pause: %v", err)
	}
	if resumed.Status != model.ExecutionCompleted {
		t.Errorf("expected COMPLETED after resume, got %s", resumed.Status)
	}
	if !ranSecond {
		t.Error("expected remaining capability to run on resume")
	}
}

func TestRequestHumanReviewPausesExecution(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleSentinel)
	task := seedTask(t, st, "audit dependencies", agent.ID)

	ranSecond := false
	e.registry.Register(model.RoleSentinel, CapabilityFunc{
		CapName: "scan",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			ec.RequestHumanReview("license conflict detected")
			return Result{Success: true}
		},
	})
	e.registry.Register(model.RoleSentinel, CapabilityFunc{
		CapName: "report",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			ranSecond = true
			return Result{Success: true}
		},
	})

	exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != model.ExecutionPaused {
		t.Fatalf("expected PAUSED, got %s", exec.Status)
	}
	if ranSecond {
		t.Error("chain must suspend at the checkpoint after a review request")
	}

	logs, err := st.ListLogs(ctx, exec.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	foundWarning := false
	for _, l := range logs {
		if l.Level == model.LogWarning && strings.Contains(l.Message, "human review requested") {
			foundWarning = true
		}
	}
	if !foundWarning {
		t.Error("expected a WARNING log entry for the review request")
	}
}

func TestSingleRunningExecutionPerTask(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleMaestro)
	task := seedTask(t, st, "exclusive", agent.ID)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.registry.Register(model.RoleMaestro, CapabilityFunc{
		CapName: "block",
		Fn: func(ctx context.Context, task *model.Task, ec *Context) Result {
			once.Do(func() {
				close(started)
				<-release
			})
			return Result{Success: true}
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := e.ExecuteTask(ctx, task.ID, agent.ID); err != nil {
			t.Errorf("first execute: %v", err)
		}
	}()

	<-started
	if _, err := e.ExecuteTask(ctx, task.ID, agent.ID); !errors.Is(err, ErrTaskBusy) {
		t.Errorf("expected ErrTaskBusy for concurrent execute, got %v", err)
	}

	close(release)
	<-done

	// Once settled, the task can be executed again.
	if _, err := st.GetTask(ctx, task.ID); err != nil {
		t.Fatalf("get task: %v", err)
	}
	if _, err := e.ExecuteTask(ctx, task.ID, agent.ID); err != nil {
		t.Errorf("re-execute after settle: %v", err)
	}
}

func TestBusyTaskLeavesNoOrphanExecution(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleMaestro)
	task := seedTask(t, st, "contested", agent.ID)
	e.registry.Register(model.RoleMaestro, okCapability("work"))

	// Occupy the task's registration slot, as a racing caller would after
	// both passed the store-level running check.
	if _, err := e.register(task.ID, "other-exec"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := e.ExecuteTask(ctx, task.ID, agent.ID); !errors.Is(err, ErrTaskBusy) {
		t.Fatalf("expected ErrTaskBusy, got %v", err)
	}

	// The loser must not have persisted a RUNNING row.
	if orphan, err := st.RunningExecutionForTask(ctx, task.ID); err != nil || orphan != nil {
		t.Fatalf("expected no persisted execution for the losing caller, got %+v (%v)", orphan, err)
	}

	// Releasing the slot unblocks the task.
	e.unregister(task.ID, "other-exec")
	exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
	if err != nil {
		t.Fatalf("execute after release: %v", err)
	}
	if exec.Status != model.ExecutionCompleted {
		t.Errorf("expected COMPLETED, got %s", exec.Status)
	}
}

func TestCompletionFallbackUsesAgentHistory(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RoleMaestro)

	now := time.Now()
	prior := &model.AgentExecution{
		TaskID:      "earlier-task",
		AgentID:     agent.ID,
		Status:      model.ExecutionCompleted,
		Result:      "shipped the login flow",
		StartedAt:   now.Add(-time.Hour),
		CompletedAt: &now,
	}
	if err := st.SaveExecution(ctx, prior); err != nil {
		t.Fatalf("save prior execution: %v", err)
	}

	task := seedTask(t, st, "follow-up work", agent.ID)

	var gotPrompt string
	e.completer = completion.Func(func(ctx context.Context, req completion.Request) (completion.Response, error) {
		gotPrompt = req.Prompt
		return completion.Response{Content: "ok"}, nil
	})

	if _, err := e.ExecuteTask(ctx, task.ID, agent.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(gotPrompt, "shipped the login flow") {
		t.Errorf("expected prior result in prompt, got %q", gotPrompt)
	}
}

func TestCompleterErrorBecomesFailedExecution(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	agent := seedAgent(t, st, model.RolePixel)
	task := seedTask(t, st, "design icons", agent.ID)

	e.completer = completion.Func(func(ctx context.Context, req completion.Request) (completion.Response, error) {
		return completion.Response{}, fmt.Errorf("completion service unavailable")
	})

	exec, err := e.ExecuteTask(ctx, task.ID, agent.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != model.ExecutionFailed {
		t.Fatalf("expected FAILED, got %s", exec.Status)
	}
	if !strings.Contains(exec.Error, "unavailable") {
		t.Errorf("unexpected error: %q", exec.Error)
	}
}
