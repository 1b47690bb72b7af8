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

const worktreeColumns = `agent_id, worktree_path, branch_name, parent_agent_id,
	parent_commit_sha, base_commit_sha, merge_status, merge_commit_sha,
	disk_usage_mb, created_at, merged_at`

// CreateWorktree inserts a worktree bookkeeping row. The unique constraint on
// branch_name detects branch collisions across processes.
func (s *Store) CreateWorktree(ctx context.Context, w *core.AgentWorktree) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_worktrees (`+worktreeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.AgentID, w.WorktreePath, w.BranchName, w.ParentAgentID,
		w.ParentCommitSHA, w.BaseCommitSHA, w.MergeStatus, w.MergeCommitSHA,
		w.DiskUsageMB, w.CreatedAt, nullTime(w.MergedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting worktree for agent %s: %w", w.AgentID, err)
	}
	return nil
}

// UpdateWorktree persists merge status, commit and disk usage changes.
func (s *Store) UpdateWorktree(ctx context.Context, w *core.AgentWorktree) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_worktrees SET
			worktree_path = ?, merge_status = ?, merge_commit_sha = ?,
			disk_usage_mb = ?, merged_at = ?
		WHERE agent_id = ?`,
		w.WorktreePath, w.MergeStatus, w.MergeCommitSHA,
		w.DiskUsageMB, nullTime(w.MergedAt), w.AgentID,
	)
	if err != nil {
		return fmt.Errorf("updating worktree for agent %s: %w", w.AgentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("worktree", w.AgentID)
	}
	return nil
}

// GetWorktree loads the worktree row owned by an agent.
func (s *Store) GetWorktree(ctx context.Context, agentID string) (*core.AgentWorktree, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+worktreeColumns+` FROM agent_worktrees WHERE agent_id = ?`, agentID)

	var w core.AgentWorktree
	var mergedAt sql.NullTime
	err := row.Scan(
		&w.AgentID, &w.WorktreePath, &w.BranchName, &w.ParentAgentID,
		&w.ParentCommitSHA, &w.BaseCommitSHA, &w.MergeStatus, &w.MergeCommitSHA,
		&w.DiskUsageMB, &w.CreatedAt, &mergedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("worktree", agentID)
	}
	if err != nil {
		return nil, err
	}
	if mergedAt.Valid {
		w.MergedAt = &mergedAt.Time
	}
	return &w, nil
}

// DeleteWorktree removes the bookkeeping row (failed creation cleanup only;
// completed worktrees are marked cleaned, never deleted).
func (s *Store) DeleteWorktree(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_worktrees WHERE agent_id = ?`, agentID)
	return err
}

// RecordConflictResolution persists one newest-wins decision.
func (s *Store) RecordConflictResolution(ctx context.Context, r *core.MergeConflictResolution) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_conflict_resolutions
			(id, agent_id, file_path, parent_modified_at, child_modified_at, choice, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.FilePath, r.ParentModifiedAt, r.ChildModifiedAt, r.Choice, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording conflict resolution: %w", err)
	}
	return nil
}

// ListConflictResolutions returns the decisions recorded for one agent.
func (s *Store) ListConflictResolutions(ctx context.Context, agentID string) ([]core.MergeConflictResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, file_path, parent_modified_at, child_modified_at, choice, created_at
		FROM merge_conflict_resolutions WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying conflict resolutions: %w", err)
	}
	defer rows.Close()

	var out []core.MergeConflictResolution
	for rows.Next() {
		var r core.MergeConflictResolution
		if err := rows.Scan(&r.ID, &r.AgentID, &r.FilePath, &r.ParentModifiedAt,
			&r.ChildModifiedAt, &r.Choice, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
