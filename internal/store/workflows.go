package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// SaveWorkflowDefinition upserts a definition. Re-registering the same id
// replaces the template; running executions keep their materialized phases.
func (s *Store) SaveWorkflowDefinition(ctx context.Context, d *core.WorkflowDefinition) error {
	phases, err := json.Marshal(d.PhasesConfig)
	if err != nil {
		return fmt.Errorf("marshaling phases config: %w", err)
	}
	cfg, err := json.Marshal(d.WorkflowConfig)
	if err != nil {
		return fmt.Errorf("marshaling workflow config: %w", err)
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, name, description, phases_config, workflow_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			phases_config = excluded.phases_config,
			workflow_config = excluded.workflow_config,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.Description, string(phases), string(cfg), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving definition %s: %w", d.ID, err)
	}
	return nil
}

// GetWorkflowDefinition loads a definition by id.
func (s *Store) GetWorkflowDefinition(ctx context.Context, id string) (*core.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, phases_config, workflow_config, created_at, updated_at
		FROM workflow_definitions WHERE id = ?`, id)
	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("workflow definition", id)
	}
	return d, err
}

// ListWorkflowDefinitions returns all registered definitions.
func (s *Store) ListWorkflowDefinitions(ctx context.Context) ([]*core.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, phases_config, workflow_config, created_at, updated_at
		FROM workflow_definitions ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying definitions: %w", err)
	}
	defer rows.Close()

	var defs []*core.WorkflowDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func scanDefinition(row rowScanner) (*core.WorkflowDefinition, error) {
	var d core.WorkflowDefinition
	var phases, cfg string
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &phases, &cfg, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(phases), &d.PhasesConfig); err != nil {
		return nil, fmt.Errorf("parsing phases config of %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(cfg), &d.WorkflowConfig); err != nil {
		return nil, fmt.Errorf("parsing workflow config of %s: %w", d.ID, err)
	}
	return &d, nil
}

// CreateWorkflowExecution inserts an execution together with its materialized
// phases and their pending progress rows in one transaction.
func (s *Store) CreateWorkflowExecution(ctx context.Context, e *core.WorkflowExecution, phases []*core.Phase, execs []*core.PhaseExecution) error {
	params, err := json.Marshal(e.LaunchParams)
	if err != nil {
		return fmt.Errorf("marshaling launch params: %w", err)
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_executions
				(id, definition_id, description, working_directory, launch_params,
				 status, result_found, result_id, completed_by_result, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.DefinitionID, e.Description, e.WorkingDirectory, string(params),
			e.Status, e.ResultFound, e.ResultID, e.CompletedByResult, e.CreatedAt, nullTime(e.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting execution %s: %w", e.ID, err)
		}
		for _, p := range phases {
			if err := insertPhase(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, pe := range execs {
			if err := insertPhaseExecution(ctx, tx, pe); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateWorkflowExecution persists status and result fields of an execution.
func (s *Store) UpdateWorkflowExecution(ctx context.Context, e *core.WorkflowExecution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status = ?, result_found = ?, result_id = ?, completed_by_result = ?, completed_at = ?
		WHERE id = ?`,
		e.Status, e.ResultFound, e.ResultID, e.CompletedByResult, nullTime(e.CompletedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("workflow execution", e.ID)
	}
	return nil
}

// GetWorkflowExecution loads an execution by id.
func (s *Store) GetWorkflowExecution(ctx context.Context, id string) (*core.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, definition_id, description, working_directory, launch_params,
			status, result_found, result_id, completed_by_result, created_at, completed_at
		FROM workflow_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("workflow execution", id)
	}
	return e, err
}

// ListWorkflowExecutions returns executions, optionally filtered by status
// (empty status means all), newest first.
func (s *Store) ListWorkflowExecutions(ctx context.Context, status core.WorkflowStatus) ([]*core.WorkflowExecution, error) {
	query := `
		SELECT id, definition_id, description, working_directory, launch_params,
			status, result_found, result_id, completed_by_result, created_at, completed_at
		FROM workflow_executions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var execs []*core.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (*core.WorkflowExecution, error) {
	var e core.WorkflowExecution
	var params string
	var completedAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.DefinitionID, &e.Description, &e.WorkingDirectory, &params,
		&e.Status, &e.ResultFound, &e.ResultID, &e.CompletedByResult, &e.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	e.LaunchParams = map[string]interface{}{}
	_ = json.Unmarshal([]byte(params), &e.LaunchParams)
	return &e, nil
}

func insertPhase(ctx context.Context, q execer, p *core.Phase) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO phases
			(id, workflow_id, phase_order, name, description, done_definitions,
			 additional_notes, outputs, next_steps, working_directory, validation,
			 cli_tool, cli_model, glm_api_token_env, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkflowID, p.Order, p.Name, p.Description, marshalJSON(p.DoneDefinitions),
		p.AdditionalNotes, marshalJSON(p.Outputs), p.NextSteps, p.WorkingDirectory, p.Validation,
		p.CLI.CLITool, p.CLI.CLIModel, p.CLI.GLMAPITokenEnv, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting phase %s: %w", p.ID, err)
	}
	return nil
}

const phaseColumns = `id, workflow_id, phase_order, name, description, done_definitions,
	additional_notes, outputs, next_steps, working_directory, validation,
	cli_tool, cli_model, glm_api_token_env, created_at`

// GetPhase loads one phase by id.
func (s *Store) GetPhase(ctx context.Context, id string) (*core.Phase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id = ?`, id)
	p, err := scanPhase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("phase", id)
	}
	return p, err
}

// ListPhases returns the phases of one execution in order.
func (s *Store) ListPhases(ctx context.Context, workflowID string) ([]*core.Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+phaseColumns+` FROM phases
		WHERE workflow_id = ? ORDER BY phase_order ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying phases: %w", err)
	}
	defer rows.Close()

	var phases []*core.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

func scanPhase(row rowScanner) (*core.Phase, error) {
	var p core.Phase
	var done, outputs string
	err := row.Scan(
		&p.ID, &p.WorkflowID, &p.Order, &p.Name, &p.Description, &done,
		&p.AdditionalNotes, &outputs, &p.NextSteps, &p.WorkingDirectory, &p.Validation,
		&p.CLI.CLITool, &p.CLI.CLIModel, &p.CLI.GLMAPITokenEnv, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.DoneDefinitions = unmarshalStrings(done)
	p.Outputs = unmarshalStrings(outputs)
	return &p, nil
}

func insertPhaseExecution(ctx context.Context, q execer, pe *core.PhaseExecution) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO phase_executions (id, phase_id, workflow_id, phase_order, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pe.ID, pe.PhaseID, pe.WorkflowID, pe.Order, pe.Status,
		nullTime(pe.StartedAt), nullTime(pe.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting phase execution %s: %w", pe.ID, err)
	}
	return nil
}

// UpdatePhaseExecution persists phase progress.
func (s *Store) UpdatePhaseExecution(ctx context.Context, pe *core.PhaseExecution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE phase_executions SET status = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		pe.Status, nullTime(pe.StartedAt), nullTime(pe.CompletedAt), pe.ID,
	)
	if err != nil {
		return fmt.Errorf("updating phase execution %s: %w", pe.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("phase execution", pe.ID)
	}
	return nil
}

// ListPhaseExecutions returns the progress rows of one execution in phase order.
func (s *Store) ListPhaseExecutions(ctx context.Context, workflowID string) ([]*core.PhaseExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phase_id, workflow_id, phase_order, status, started_at, completed_at
		FROM phase_executions WHERE workflow_id = ? ORDER BY phase_order ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying phase executions: %w", err)
	}
	defer rows.Close()

	var execs []*core.PhaseExecution
	for rows.Next() {
		var pe core.PhaseExecution
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&pe.ID, &pe.PhaseID, &pe.WorkflowID, &pe.Order,
			&pe.Status, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			pe.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			pe.CompletedAt = &completedAt.Time
		}
		execs = append(execs, &pe)
	}
	return execs, rows.Err()
}
