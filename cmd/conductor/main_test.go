package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/conductor/internal/completion"
	"github.com/aristath/conductor/internal/model"
	"github.com/aristath/conductor/internal/store"
)

const samplePlan = `
title: ship the widget
description: end to end widget delivery
phases:
  - name: build
    subtasks:
      - title: design schema
        role: ARCHITECTON
      - title: implement api
        role: ARCHITECTON
        depends_on: [design schema]
  - name: polish
    subtasks:
      - title: style dashboard
        role: PIXEL
        depends_on: [implement api]
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

func TestSeedPlanCreatesOrchestration(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	orch, err := seedPlan(ctx, st, writePlan(t, samplePlan))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if orch.Status != model.OrchestrationAssigningAgents {
		t.Errorf("expected ASSIGNING_AGENTS, got %s", orch.Status)
	}
	if len(orch.Plan.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(orch.Plan.Phases))
	}

	tasks, err := st.ListTasksByOrchestration(ctx, orch.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 subtasks, got %d", len(tasks))
	}

	byTitle := make(map[string]*model.Task)
	for _, task := range tasks {
		if task.AgentID == "" {
			t.Errorf("subtask %q has no agent", task.Title)
		}
		byTitle[task.Title] = task
	}

	api := byTitle["implement api"]
	if len(api.DependsOn) != 1 || api.DependsOn[0] != byTitle["design schema"].ID {
		t.Errorf("dependency titles not resolved to IDs: %+v", api.DependsOn)
	}

	// A sentinel exists for review tasks even though no subtask uses one.
	sentinels, err := st.ListAgentsByRole(ctx, model.RoleSentinel)
	if err != nil {
		t.Fatalf("list sentinels: %v", err)
	}
	if len(sentinels) != 1 {
		t.Errorf("expected 1 sentinel agent, got %d", len(sentinels))
	}
}

func TestSeedPlanReusesActiveAgents(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	existing := &model.Agent{ID: store.NewID(), Name: "veteran", Role: model.RoleArchitecton, IsActive: true}
	if err := st.SaveAgent(ctx, existing); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	orch, err := seedPlan(ctx, st, writePlan(t, samplePlan))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	tasks, err := st.ListTasksByOrchestration(ctx, orch.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Title == "design schema" && task.AgentID != existing.ID {
			t.Errorf("expected existing architecton reused, got agent %s", task.AgentID)
		}
	}
}

func TestSeedPlanRejectsCycles(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	cyclic := `
title: impossible
phases:
  - name: loop
    subtasks:
      - title: a
        role: MAESTRO
        depends_on: [b]
      - title: b
        role: MAESTRO
        depends_on: [a]
`
	if _, err := seedPlan(ctx, st, writePlan(t, cyclic)); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestWithRolePromptsInjectsConfiguredPrompt(t *testing.T) {
	var got completion.Request
	inner := completion.Func(func(ctx context.Context, req completion.Request) (completion.Response, error) {
		got = req
		return completion.Response{Content: "ok"}, nil
	})

	wrapped := withRolePrompts(inner, map[string]string{"MAESTRO": "coordinate carefully"})

	_, err := wrapped.Complete(context.Background(), completion.Request{Role: model.RoleMaestro})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.SystemPrompt != "coordinate carefully" {
		t.Errorf("expected configured prompt injected, got %q", got.SystemPrompt)
	}

	_, err = wrapped.Complete(context.Background(), completion.Request{Role: model.RoleMaestro, SystemPrompt: "explicit"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.SystemPrompt != "explicit" {
		t.Errorf("expected explicit prompt preserved, got %q", got.SystemPrompt)
	}
}
