package model

// AgentRole identifies the kind of work an agent performs.
type AgentRole string

const (
	RoleMaestro     AgentRole = "MAESTRO"
	RoleSentinel    AgentRole = "SENTINEL"
	RoleArchitecton AgentRole = "ARCHITECTON"
	RolePixel       AgentRole = "PIXEL"
)

// Roles lists all known agent roles.
func Roles() []AgentRole {
	return []AgentRole{RoleMaestro, RoleSentinel, RoleArchitecton, RolePixel}
}

// Agent is a role-specific actor that executes tasks.
// Agents are read-only to the orchestration core.
type Agent struct {
	ID       string
	Name     string
	Role     AgentRole
	IsActive bool
}
