package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// CreateAgentResult persists a per-task artifact submission.
func (s *Store) CreateAgentResult(ctx context.Context, r *core.AgentResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_results
			(id, task_id, agent_id, result_type, markdown_file_path, extra_files,
			 summary, validation_status, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.AgentID, r.ResultType, r.MarkdownFilePath,
		marshalJSON(r.ExtraFiles), r.Summary, r.ValidationStatus, r.Feedback, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting agent result %s: %w", r.ID, err)
	}
	return nil
}

// UpdateAgentResult persists a validator verdict on an artifact.
func (s *Store) UpdateAgentResult(ctx context.Context, r *core.AgentResult) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_results SET validation_status = ?, feedback = ?
		WHERE id = ?`,
		r.ValidationStatus, r.Feedback, r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent result %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("agent result", r.ID)
	}
	return nil
}

// ListAgentResults returns the artifacts submitted for one task, oldest first.
func (s *Store) ListAgentResults(ctx context.Context, taskID string) ([]*core.AgentResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, agent_id, result_type, markdown_file_path, extra_files,
			summary, validation_status, feedback, created_at
		FROM agent_results WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying agent results: %w", err)
	}
	defer rows.Close()

	var results []*core.AgentResult
	for rows.Next() {
		var r core.AgentResult
		var extra string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.AgentID, &r.ResultType, &r.MarkdownFilePath,
			&extra, &r.Summary, &r.ValidationStatus, &r.Feedback, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ExtraFiles = unmarshalStrings(extra)
		results = append(results, &r)
	}
	return results, rows.Err()
}

// CreateWorkflowResult persists a workflow-level deliverable.
func (s *Store) CreateWorkflowResult(ctx context.Context, r *core.WorkflowResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_results
			(id, workflow_id, submitted_by, markdown_file_path, explanation,
			 validation_status, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkflowID, r.SubmittedBy, r.MarkdownFilePath, r.Explanation,
		r.ValidationStatus, r.Feedback, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting workflow result %s: %w", r.ID, err)
	}
	return nil
}

// UpdateWorkflowResult persists a validator verdict on a deliverable.
func (s *Store) UpdateWorkflowResult(ctx context.Context, r *core.WorkflowResult) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_results SET validation_status = ?, feedback = ?
		WHERE id = ?`,
		r.ValidationStatus, r.Feedback, r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating workflow result %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("workflow result", r.ID)
	}
	return nil
}

// GetWorkflowResult loads one deliverable by id.
func (s *Store) GetWorkflowResult(ctx context.Context, id string) (*core.WorkflowResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, submitted_by, markdown_file_path, explanation,
			validation_status, feedback, created_at
		FROM workflow_results WHERE id = ?`, id)

	var r core.WorkflowResult
	err := row.Scan(&r.ID, &r.WorkflowID, &r.SubmittedBy, &r.MarkdownFilePath,
		&r.Explanation, &r.ValidationStatus, &r.Feedback, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("workflow result", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListWorkflowResults returns the deliverables of one execution, oldest first.
func (s *Store) ListWorkflowResults(ctx context.Context, workflowID string) ([]*core.WorkflowResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, submitted_by, markdown_file_path, explanation,
			validation_status, feedback, created_at
		FROM workflow_results WHERE workflow_id = ? ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying workflow results: %w", err)
	}
	defer rows.Close()

	var results []*core.WorkflowResult
	for rows.Next() {
		var r core.WorkflowResult
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.SubmittedBy, &r.MarkdownFilePath,
			&r.Explanation, &r.ValidationStatus, &r.Feedback, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// CreateValidationReview records one validator iteration.
func (s *Store) CreateValidationReview(ctx context.Context, v *core.ValidationReview) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_reviews (id, task_id, validator_agent_id, iteration, passed, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TaskID, v.ValidatorAgentID, v.Iteration, v.Passed, v.Feedback, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting validation review: %w", err)
	}
	return nil
}

// ListValidationReviews returns the validator iterations of one task in order.
func (s *Store) ListValidationReviews(ctx context.Context, taskID string) ([]*core.ValidationReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, validator_agent_id, iteration, passed, feedback, created_at
		FROM validation_reviews WHERE task_id = ? ORDER BY iteration ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying validation reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*core.ValidationReview
	for rows.Next() {
		var v core.ValidationReview
		if err := rows.Scan(&v.ID, &v.TaskID, &v.ValidatorAgentID, &v.Iteration,
			&v.Passed, &v.Feedback, &v.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, &v)
	}
	return reviews, rows.Err()
}

// CreateSteeringIntervention records a nudge delivered to a live session.
func (s *Store) CreateSteeringIntervention(ctx context.Context, si *core.SteeringIntervention) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steering_interventions (id, agent_id, task_id, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		si.ID, si.AgentID, si.TaskID, si.Message, si.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting steering intervention: %w", err)
	}
	return nil
}

// CreateGuardianAnalysis records a monitoring verdict.
func (s *Store) CreateGuardianAnalysis(ctx context.Context, g *core.GuardianAnalysis) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_analyses (id, agent_id, task_id, verdict, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.AgentID, g.TaskID, g.Verdict, g.Detail, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting guardian analysis: %w", err)
	}
	return nil
}

// ClearTaskAdvisoryHistory deletes steering interventions, guardian analyses
// and validation reviews tied to a task so a restarted run begins clean.
func (s *Store) ClearTaskAdvisoryHistory(ctx context.Context, taskID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM steering_interventions WHERE task_id = ?`,
			`DELETE FROM guardian_analyses WHERE task_id = ?`,
			`DELETE FROM validation_reviews WHERE task_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, taskID); err != nil {
				return fmt.Errorf("clearing task history: %w", err)
			}
		}
		return nil
	})
}
