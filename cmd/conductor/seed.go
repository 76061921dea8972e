package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/conductor/internal/model"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/store"
)

// seedPlan loads a YAML plan file and materializes it as an orchestration:
// one parent task, one agent per referenced role, and phase-ordered subtasks
// with their dependency edges. The dependency graph is validated before
// anything executes.
func seedPlan(ctx context.Context, st store.Store, path string) (*model.Orchestration, error) {
	pf, err := model.LoadPlanFile(path)
	if err != nil {
		return nil, err
	}

	agents, err := ensureAgents(ctx, st, pf)
	if err != nil {
		return nil, err
	}

	parent := &model.Task{
		ID:          store.NewID(),
		Title:       pf.Title,
		Description: pf.Description,
		Status:      model.TaskInProgress,
	}
	if err := st.SaveTask(ctx, parent); err != nil {
		return nil, fmt.Errorf("creating parent task: %w", err)
	}

	orch := &model.Orchestration{
		ID:     store.NewID(),
		TaskID: parent.ID,
		Status: model.OrchestrationCreatingSubtasks,
		Plan:   pf.ToPlan(),
	}
	if err := st.SaveOrchestration(ctx, orch); err != nil {
		return nil, fmt.Errorf("creating orchestration: %w", err)
	}

	// First pass assigns IDs so dependency titles can be resolved.
	idByTitle := make(map[string]string)
	var subtasks []*model.Task
	for _, phase := range pf.Phases {
		for _, stk := range phase.Subtasks {
			task := &model.Task{
				ID:              store.NewID(),
				Title:           stk.Title,
				Description:     stk.Description,
				Status:          model.TaskTodo,
				Priority:        stk.Priority,
				OrchestrationID: orch.ID,
				AgentID:         agents[stk.Role].ID,
			}
			idByTitle[stk.Title] = task.ID
			subtasks = append(subtasks, task)
		}
	}
	i := 0
	for _, phase := range pf.Phases {
		for _, stk := range phase.Subtasks {
			for _, dep := range stk.DependsOn {
				subtasks[i].DependsOn = append(subtasks[i].DependsOn, idByTitle[dep])
			}
			i++
		}
	}

	if _, err := scheduler.ValidateDependencies(subtasks); err != nil {
		return nil, fmt.Errorf("plan %q: %w", pf.Title, err)
	}

	for _, task := range subtasks {
		if err := st.SaveTask(ctx, task); err != nil {
			return nil, fmt.Errorf("creating subtask %q: %w", task.Title, err)
		}
	}

	orch.Status = model.OrchestrationAssigningAgents
	if err := st.SaveOrchestration(ctx, orch); err != nil {
		return nil, fmt.Errorf("updating orchestration: %w", err)
	}
	return orch, nil
}

// ensureAgents returns one active agent per role referenced by the plan,
// creating default agents for roles that have none.
func ensureAgents(ctx context.Context, st store.Store, pf *model.PlanFile) (map[string]*model.Agent, error) {
	roles := make(map[string]bool)
	for _, phase := range pf.Phases {
		for _, stk := range phase.Subtasks {
			roles[stk.Role] = true
		}
	}
	// The phase gate assigns its review tasks to a sentinel.
	roles[string(model.RoleSentinel)] = true

	agents := make(map[string]*model.Agent, len(roles))
	for role := range roles {
		existing, err := st.ListAgentsByRole(ctx, model.AgentRole(role))
		if err != nil {
			return nil, fmt.Errorf("listing %s agents: %w", role, err)
		}
		var active *model.Agent
		for _, a := range existing {
			if a.IsActive {
				active = a
				break
			}
		}
		if active == nil {
			active = &model.Agent{
				ID:       store.NewID(),
				Name:     strings.ToLower(role),
				Role:     model.AgentRole(role),
				IsActive: true,
			}
			if err := st.SaveAgent(ctx, active); err != nil {
				return nil, fmt.Errorf("creating %s agent: %w", role, err)
			}
		}
		agents[role] = active
	}
	return agents, nil
}
