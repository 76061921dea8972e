package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlanFile is a YAML seed for an orchestration: a parent task title plus
// phase-ordered subtasks with role assignments and title-based dependencies.
type PlanFile struct {
	Title       string          `yaml:"title"`
	Description string          `yaml:"description,omitempty"`
	Phases      []PlanFilePhase `yaml:"phases"`
}

// PlanFilePhase is one named phase of a plan file.
type PlanFilePhase struct {
	Name     string            `yaml:"name"`
	Subtasks []PlanFileSubtask `yaml:"subtasks"`
}

// PlanFileSubtask declares a subtask by title. DependsOn references other
// subtask titles within the same plan.
type PlanFileSubtask struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Role        string   `yaml:"role"`
	Priority    int      `yaml:"priority,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
}

// LoadPlanFile reads and validates a plan file from disk.
func LoadPlanFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file %s: %w", path, err)
	}
	return ParsePlanFile(data)
}

// ParsePlanFile parses plan YAML and validates title uniqueness, role names,
// and that dependencies reference declared subtasks.
func ParsePlanFile(data []byte) (*PlanFile, error) {
	var pf PlanFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}

	if pf.Title == "" {
		return nil, fmt.Errorf("plan file missing title")
	}
	if len(pf.Phases) == 0 {
		return nil, fmt.Errorf("plan file %q has no phases", pf.Title)
	}

	known := make(map[string]bool)
	for _, phase := range pf.Phases {
		if phase.Name == "" {
			return nil, fmt.Errorf("plan file %q has a phase without a name", pf.Title)
		}
		for _, st := range phase.Subtasks {
			if st.Title == "" {
				return nil, fmt.Errorf("phase %q has a subtask without a title", phase.Name)
			}
			if known[st.Title] {
				return nil, fmt.Errorf("duplicate subtask title %q", st.Title)
			}
			known[st.Title] = true
			if !validRole(st.Role) {
				return nil, fmt.Errorf("subtask %q has unknown role %q", st.Title, st.Role)
			}
		}
	}

	// Dependencies may only reference declared subtask titles.
	for _, phase := range pf.Phases {
		for _, st := range phase.Subtasks {
			for _, dep := range st.DependsOn {
				if !known[dep] {
					return nil, fmt.Errorf("subtask %q depends on undeclared subtask %q", st.Title, dep)
				}
			}
		}
	}

	return &pf, nil
}

// ToPlan converts the file representation into the persisted Plan form.
func (pf *PlanFile) ToPlan() Plan {
	plan := Plan{Phases: make([]Phase, 0, len(pf.Phases))}
	for _, phase := range pf.Phases {
		p := Phase{Name: phase.Name}
		for _, st := range phase.Subtasks {
			p.SubtaskTitles = append(p.SubtaskTitles, st.Title)
		}
		plan.Phases = append(plan.Phases, p)
	}
	return plan
}

func validRole(role string) bool {
	for _, r := range Roles() {
		if string(r) == role {
			return true
		}
	}
	return false
}
