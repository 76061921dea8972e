package model

import "time"

// OrchestrationStatus represents the lifecycle of a multi-task plan.
type OrchestrationStatus string

const (
	OrchestrationPlanning         OrchestrationStatus = "PLANNING"
	OrchestrationCreatingSubtasks OrchestrationStatus = "CREATING_SUBTASKS"
	OrchestrationAssigningAgents  OrchestrationStatus = "ASSIGNING_AGENTS"
	OrchestrationExecuting        OrchestrationStatus = "EXECUTING"
	OrchestrationReviewing        OrchestrationStatus = "REVIEWING"
	OrchestrationCompleted        OrchestrationStatus = "COMPLETED"
	OrchestrationFailed           OrchestrationStatus = "FAILED"
)

// Phase is a named, ordered subset of an orchestration's subtasks.
// A phase is complete only when every task matching its subtask titles is DONE.
type Phase struct {
	Name          string   `json:"name"`
	SubtaskTitles []string `json:"subtask_titles"`
}

// Plan is the ordered list of phases an orchestration executes.
type Plan struct {
	Phases []Phase `json:"phases"`
}

// PhaseFor returns the phase whose subtask titles include the given title.
func (p *Plan) PhaseFor(title string) (*Phase, bool) {
	for i := range p.Phases {
		for _, t := range p.Phases[i].SubtaskTitles {
			if t == title {
				return &p.Phases[i], true
			}
		}
	}
	return nil, false
}

// Orchestration groups a parent task with its decomposed, phase-ordered subtasks.
type Orchestration struct {
	ID           string
	TaskID       string // the parent task
	Status       OrchestrationStatus
	StatusReason string
	Plan         Plan
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
