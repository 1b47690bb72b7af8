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

const taskColumns = `id, raw_description, enriched_description, done_definition,
	completion_criteria, estimated_complexity, status, priority, priority_boosted,
	assigned_agent_id, created_by_agent_id, parent_task_id, phase_id, workflow_id,
	ticket_id, working_directory, validation_enabled, validation_iteration,
	last_validation_feedback, duplicate_of_task_id, similarity_score,
	related_task_ids, failure_reason, completion_notes, queued_at, completed_at,
	created_at, updated_at`

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, t *core.Task) error {
	return s.createTask(ctx, s.db, t)
}

func (s *Store) createTask(ctx context.Context, q execer, t *core.Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RawDescription, t.EnrichedDescription, t.DoneDefinition,
		t.CompletionCriteria, t.EstimatedComplexity, t.Status, t.Priority, t.PriorityBoosted,
		t.AssignedAgentID, t.CreatedByAgentID, t.ParentTaskID, t.PhaseID, t.WorkflowID,
		t.TicketID, t.WorkingDirectory, t.ValidationEnabled, t.ValidationIteration,
		t.LastValidationFeedback, t.DuplicateOfTaskID, t.SimilarityScore,
		marshalJSON(t.RelatedTaskIDs), t.FailureReason, t.CompletionNotes,
		nullTime(t.QueuedAt), nullTime(t.CompletedAt), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTask persists all mutable fields of a task.
func (s *Store) UpdateTask(ctx context.Context, t *core.Task) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			raw_description = ?, enriched_description = ?, done_definition = ?,
			completion_criteria = ?, estimated_complexity = ?, status = ?,
			priority = ?, priority_boosted = ?, assigned_agent_id = ?,
			parent_task_id = ?, phase_id = ?, ticket_id = ?, working_directory = ?,
			validation_enabled = ?, validation_iteration = ?, last_validation_feedback = ?,
			duplicate_of_task_id = ?, similarity_score = ?, related_task_ids = ?,
			failure_reason = ?, completion_notes = ?, queued_at = ?, completed_at = ?,
			updated_at = ?
		WHERE id = ?`,
		t.RawDescription, t.EnrichedDescription, t.DoneDefinition,
		t.CompletionCriteria, t.EstimatedComplexity, t.Status,
		t.Priority, t.PriorityBoosted, t.AssignedAgentID,
		t.ParentTaskID, t.PhaseID, t.TicketID, t.WorkingDirectory,
		t.ValidationEnabled, t.ValidationIteration, t.LastValidationFeedback,
		t.DuplicateOfTaskID, t.SimilarityScore, marshalJSON(t.RelatedTaskIDs),
		t.FailureReason, t.CompletionNotes, nullTime(t.QueuedAt), nullTime(t.CompletedAt),
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("task", t.ID)
	}
	return nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("task", id)
	}
	return t, err
}

// ListTasksByWorkflow returns all tasks for one execution, oldest first.
func (s *Store) ListTasksByWorkflow(ctx context.Context, workflowID string) ([]*core.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workflow_id = ? ORDER BY created_at ASC`, workflowID)
}

// ListTasksByPhase returns all tasks attached to a phase.
func (s *Store) ListTasksByPhase(ctx context.Context, phaseID string) ([]*core.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE phase_id = ? ORDER BY created_at ASC`, phaseID)
}

// ListTasksByTicket returns all tasks naming a ticket.
func (s *Store) ListTasksByTicket(ctx context.Context, ticketID string) ([]*core.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE ticket_id = ? ORDER BY created_at ASC`, ticketID)
}

// ListTasksByStatus returns tasks in one state across workflows.
func (s *Store) ListTasksByStatus(ctx context.Context, status core.TaskStatus) ([]*core.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC`, string(status))
}

// ListQueuedTasks returns queued tasks in dequeue order: boosted first, then
// priority, then FIFO on queue time.
func (s *Store) ListQueuedTasks(ctx context.Context) ([]*core.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'queued'
		ORDER BY priority_boosted DESC,
			CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
			queued_at ASC`)
}

// ListRecentTasks returns the newest tasks for a workflow, capped at limit.
func (s *Store) ListRecentTasks(ctx context.Context, workflowID string, limit int) ([]*core.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE workflow_id = ?
		ORDER BY created_at DESC LIMIT ?`, workflowID, limit)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*core.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*core.Task, error) {
	var t core.Task
	var related string
	var queuedAt, completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.RawDescription, &t.EnrichedDescription, &t.DoneDefinition,
		&t.CompletionCriteria, &t.EstimatedComplexity, &t.Status, &t.Priority, &t.PriorityBoosted,
		&t.AssignedAgentID, &t.CreatedByAgentID, &t.ParentTaskID, &t.PhaseID, &t.WorkflowID,
		&t.TicketID, &t.WorkingDirectory, &t.ValidationEnabled, &t.ValidationIteration,
		&t.LastValidationFeedback, &t.DuplicateOfTaskID, &t.SimilarityScore,
		&related, &t.FailureReason, &t.CompletionNotes, &queuedAt, &completedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if queuedAt.Valid {
		t.QueuedAt = &queuedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if related != "" && related != "[]" {
		_ = json.Unmarshal([]byte(related), &t.RelatedTaskIDs)
	}
	return &t, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
