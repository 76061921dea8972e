package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/conductor/internal/model"
)

// ValidateDependencies runs a topological sort over the tasks' dependency
// edges. Returns the ordered task IDs, or an error if a dependency is
// missing or a cycle exists.
func ValidateDependencies(tasks []*model.Task) ([]string, error) {
	byID := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if _, ok := byID[depID]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			// Root task; the nil edge keeps it in the sort result.
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, depID := range t.DependsOn {
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(tasks) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for id := range byID {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// ValidateOrchestration validates the dependency graph of an orchestration's
// tasks before execution starts.
func (r *Resolver) ValidateOrchestration(ctx context.Context, orchestrationID string) ([]string, error) {
	tasks, err := r.store.ListTasksByOrchestration(ctx, orchestrationID)
	if err != nil {
		return nil, fmt.Errorf("listing orchestration tasks: %w", err)
	}
	return ValidateDependencies(tasks)
}
