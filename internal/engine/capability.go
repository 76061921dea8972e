package engine

import (
	"context"
	"sync"

	"github.com/aristath/conductor/internal/model"
)

// Result is the outcome of one capability step or of a whole execution.
type Result struct {
	Success   bool
	Result    string
	Error     string
	Artifacts []string
}

// Capability is a named, pluggable unit of work a role can perform on a
// task. Capabilities run sequentially; the first failure aborts the chain.
type Capability interface {
	Name() string
	Description() string
	Execute(ctx context.Context, task *model.Task, ec *Context) Result
}

// Registry maps agent roles to their registered capabilities, in
// registration order.
type Registry struct {
	mu   sync.RWMutex
	caps map[model.AgentRole][]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[model.AgentRole][]Capability)}
}

// Register appends a capability to a role's chain.
func (r *Registry) Register(role model.AgentRole, cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[role] = append(r.caps[role], cap)
}

// ForRole returns the role's capability chain in registration order.
func (r *Registry) ForRole(role model.AgentRole) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Capability(nil), r.caps[role]...)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc struct {
	CapName        string
	CapDescription string
	Fn             func(ctx context.Context, task *model.Task, ec *Context) Result
}

func (c CapabilityFunc) Name() string        { return c.CapName }
func (c CapabilityFunc) Description() string { return c.CapDescription }

func (c CapabilityFunc) Execute(ctx context.Context, task *model.Task, ec *Context) Result {
	return c.Fn(ctx, task, ec)
}
