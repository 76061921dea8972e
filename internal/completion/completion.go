package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/conductor/internal/model"
)

// Request is a single generic completion call for an agent working a task.
type Request struct {
	TaskID       string
	AgentID      string
	Role         model.AgentRole
	SystemPrompt string
	Prompt       string
}

// Response is the completion result.
type Response struct {
	Content string
}

// Completer is the contract for the external AI completion service.
// Concrete clients live outside the orchestration core.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Func adapts a plain function to the Completer interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Complete implements Completer.
func (f Func) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// BuildTaskPrompt renders the generic execution prompt for a task,
// optionally enriched with the agent's prior results.
func BuildTaskPrompt(task *model.Task, history []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Complete the following task.\n\nTitle: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}

	if len(history) > 0 {
		b.WriteString("\nPrior results from this agent, newest first:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s\n", truncate(h, 300))
		}
	}

	b.WriteString("\nRespond with the work product for this task.")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
