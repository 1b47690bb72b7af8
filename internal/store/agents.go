package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

const agentColumns = `id, system_prompt, status, cli_type, cli_model,
	tmux_session_name, current_task_id, agent_type, kept_alive_for_validation,
	last_activity, health_check_failures, created_at, terminated_at`

// CreateAgent inserts a new agent row. The partial unique index on
// tmux_session_name rejects duplicate live sessions.
func (s *Store) CreateAgent(ctx context.Context, a *core.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SystemPrompt, a.Status, a.CLIType, a.CLIModel,
		a.TmuxSessionName, a.CurrentTaskID, a.AgentType, a.KeptAliveForValidation,
		a.LastActivity, a.HealthCheckFailures, a.CreatedAt, nullTime(a.TerminatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAgent persists all mutable fields of an agent.
func (s *Store) UpdateAgent(ctx context.Context, a *core.Agent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET
			system_prompt = ?, status = ?, cli_type = ?, cli_model = ?,
			tmux_session_name = ?, current_task_id = ?, agent_type = ?,
			kept_alive_for_validation = ?, last_activity = ?,
			health_check_failures = ?, terminated_at = ?
		WHERE id = ?`,
		a.SystemPrompt, a.Status, a.CLIType, a.CLIModel,
		a.TmuxSessionName, a.CurrentTaskID, a.AgentType,
		a.KeptAliveForValidation, a.LastActivity,
		a.HealthCheckFailures, nullTime(a.TerminatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("agent", a.ID)
	}
	return nil
}

// GetAgent loads an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("agent", id)
	}
	return a, err
}

// ListLiveAgents returns all non-terminated agents.
func (s *Store) ListLiveAgents(ctx context.Context) ([]*core.Agent, error) {
	return s.queryAgents(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE status != 'terminated' ORDER BY created_at ASC`)
}

// CountLivePhaseAgents returns the number of agents consuming capacity slots.
func (s *Store) CountLivePhaseAgents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agents
		WHERE status != 'terminated' AND agent_type = 'phase'`).Scan(&n)
	return n, err
}

func (s *Store) queryAgents(ctx context.Context, query string, args ...any) ([]*core.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*core.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(row rowScanner) (*core.Agent, error) {
	var a core.Agent
	var terminatedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.SystemPrompt, &a.Status, &a.CLIType, &a.CLIModel,
		&a.TmuxSessionName, &a.CurrentTaskID, &a.AgentType, &a.KeptAliveForValidation,
		&a.LastActivity, &a.HealthCheckFailures, &a.CreatedAt, &terminatedAt,
	)
	if err != nil {
		return nil, err
	}
	if terminatedAt.Valid {
		a.TerminatedAt = &terminatedAt.Time
	}
	return &a, nil
}

// AppendAgentLog records an audit entry (message, broadcast, final output)
// against an agent.
func (s *Store) AppendAgentLog(ctx context.Context, agentID, entryType, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_logs (id, agent_id, entry_type, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), agentID, entryType, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending agent log: %w", err)
	}
	return nil
}

// ListAgentLog returns an agent's audit entries, oldest first.
func (s *Store) ListAgentLog(ctx context.Context, agentID string) ([]AgentLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_type, content, created_at FROM agent_logs
		WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying agent log: %w", err)
	}
	defer rows.Close()

	var entries []AgentLogEntry
	for rows.Next() {
		var e AgentLogEntry
		if err := rows.Scan(&e.EntryType, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AgentLogEntry is one audit record for an agent.
type AgentLogEntry struct {
	EntryType string
	Content   string
	CreatedAt time.Time
}
