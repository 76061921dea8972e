package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/conductor/internal/model"
)

// SaveAgent saves or updates an agent.
func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *model.Agent) error {
	if agent.ID == "" {
		agent.ID = NewID()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, role, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			is_active = excluded.is_active
	`, agent.ID, agent.Name, string(agent.Role), boolToInt(agent.IsActive))
	if err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	agent := &model.Agent{}
	var role string
	var isActive int

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, is_active FROM agents WHERE id = ?
	`, id).Scan(&agent.ID, &agent.Name, &role, &isActive)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}

	agent.Role = model.AgentRole(role)
	agent.IsActive = isActive != 0
	return agent, nil
}

// ListAgentsByRole returns all active agents with the given role.
func (s *SQLiteStore) ListAgentsByRole(ctx context.Context, role model.AgentRole) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, is_active FROM agents
		WHERE role = ? AND is_active = 1 ORDER BY name
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		agent := &model.Agent{}
		var r string
		var isActive int
		if err := rows.Scan(&agent.ID, &agent.Name, &r, &isActive); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agent.Role = model.AgentRole(r)
		agent.IsActive = isActive != 0
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}
