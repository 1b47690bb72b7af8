package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

const ticketColumns = `id, workflow_id, title, description, ticket_type, priority,
	status, approval_status, rejection_reason, parent_ticket_id, blocked_by,
	is_resolved, created_by_agent_id, assigned_agent_id, tags,
	created_at, updated_at, resolved_at`

// CreateTicket inserts a ticket and its audit row in one transaction. The
// FTS index is maintained by triggers.
func (s *Store) CreateTicket(ctx context.Context, t *core.Ticket, history *core.TicketHistory) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (`+ticketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.WorkflowID, t.Title, t.Description, t.TicketType, t.Priority,
			t.Status, t.ApprovalStatus, t.RejectionReason, t.ParentTicketID,
			marshalJSON(t.BlockedByTicketIDs), t.IsResolved, t.CreatedByAgentID,
			t.AssignedAgentID, marshalJSON(t.Tags), t.CreatedAt, t.UpdatedAt,
			nullTime(t.ResolvedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting ticket %s: %w", t.ID, err)
		}
		return insertHistory(ctx, tx, history)
	})
}

// UpdateTicket persists ticket fields plus an audit row atomically.
func (s *Store) UpdateTicket(ctx context.Context, t *core.Ticket, history *core.TicketHistory) error {
	t.UpdatedAt = time.Now().UTC()
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tickets SET
				title = ?, description = ?, ticket_type = ?, priority = ?,
				status = ?, approval_status = ?, rejection_reason = ?,
				parent_ticket_id = ?, blocked_by = ?, is_resolved = ?,
				assigned_agent_id = ?, tags = ?, updated_at = ?, resolved_at = ?
			WHERE id = ?`,
			t.Title, t.Description, t.TicketType, t.Priority,
			t.Status, t.ApprovalStatus, t.RejectionReason,
			t.ParentTicketID, marshalJSON(t.BlockedByTicketIDs), t.IsResolved,
			t.AssignedAgentID, marshalJSON(t.Tags), t.UpdatedAt, nullTime(t.ResolvedAt),
			t.ID,
		)
		if err != nil {
			return fmt.Errorf("updating ticket %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrNotFound("ticket", t.ID)
		}
		return insertHistory(ctx, tx, history)
	})
}

// GetTicket loads a ticket by id.
func (s *Store) GetTicket(ctx context.Context, id string) (*core.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("ticket", id)
	}
	return t, err
}

// ListTickets returns every ticket of a workflow, newest first.
func (s *Store) ListTickets(ctx context.Context, workflowID string) ([]*core.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE workflow_id = ?
		ORDER BY created_at DESC`, workflowID)
}

// ListRecentTickets returns the newest tickets of a workflow, capped at limit.
func (s *Store) ListRecentTickets(ctx context.Context, workflowID string, limit int) ([]*core.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE workflow_id = ?
		ORDER BY created_at DESC LIMIT ?`, workflowID, limit)
}

// ListTicketsBlockedBy returns unresolved tickets whose blocker list contains
// the given id.
func (s *Store) ListTicketsBlockedBy(ctx context.Context, blockerID string) ([]*core.Ticket, error) {
	// JSON arrays of short ids; a LIKE prefilter keeps the scan cheap and the
	// exact check happens in Go.
	candidates, err := s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE is_resolved = 0 AND blocked_by LIKE ?`, "%"+blockerID+"%")
	if err != nil {
		return nil, err
	}
	var out []*core.Ticket
	for _, t := range candidates {
		for _, b := range t.BlockedByTicketIDs {
			if b == blockerID {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]*core.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*core.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func scanTicket(row rowScanner) (*core.Ticket, error) {
	var t core.Ticket
	var blockedBy, tags string
	var resolvedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.WorkflowID, &t.Title, &t.Description, &t.TicketType, &t.Priority,
		&t.Status, &t.ApprovalStatus, &t.RejectionReason, &t.ParentTicketID, &blockedBy,
		&t.IsResolved, &t.CreatedByAgentID, &t.AssignedAgentID, &tags,
		&t.CreatedAt, &t.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	t.BlockedByTicketIDs = unmarshalStrings(blockedBy)
	t.Tags = unmarshalStrings(tags)
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Time
	}
	return &t, nil
}

// KeywordHit is one full-text match from the tickets FTS index.
type KeywordHit struct {
	TicketID string
	Rank     float64 // bm25, lower is better
}

// SearchTicketsKeyword runs an FTS5 match scoped to one workflow.
func (s *Store) SearchTicketsKeyword(ctx context.Context, workflowID, query string, limit int) ([]KeywordHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, bm25(tickets_fts) AS rank
		FROM tickets_fts
		JOIN tickets t ON t.rowid = tickets_fts.rowid
		WHERE tickets_fts MATCH ? AND t.workflow_id = ?
		ORDER BY rank ASC LIMIT ?`, match, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.TicketID, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into a safe FTS5 OR-query of quoted terms.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// AddTicketComment inserts a comment plus its audit row.
func (s *Store) AddTicketComment(ctx context.Context, c *core.TicketComment, history *core.TicketHistory) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ticket_comments (id, ticket_id, author_id, comment_type, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.TicketID, c.AuthorID, c.CommentType, c.Text, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting comment: %w", err)
		}
		return insertHistory(ctx, tx, history)
	})
}

// ListTicketComments returns a ticket's comments, oldest first.
func (s *Store) ListTicketComments(ctx context.Context, ticketID string) ([]*core.TicketComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, author_id, comment_type, text, created_at
		FROM ticket_comments WHERE ticket_id = ? ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer rows.Close()

	var comments []*core.TicketComment
	for rows.Next() {
		var c core.TicketComment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.AuthorID, &c.CommentType, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// LinkTicketCommit inserts a commit link plus its audit row.
func (s *Store) LinkTicketCommit(ctx context.Context, link *core.TicketCommit, history *core.TicketHistory) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ticket_commits (id, ticket_id, commit_sha, linked_by, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			link.ID, link.TicketID, link.CommitSHA, link.LinkedBy, link.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("linking commit: %w", err)
		}
		return insertHistory(ctx, tx, history)
	})
}

// ListTicketCommits returns all commits linked to a ticket.
func (s *Store) ListTicketCommits(ctx context.Context, ticketID string) ([]*core.TicketCommit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, commit_sha, linked_by, created_at
		FROM ticket_commits WHERE ticket_id = ? ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("querying ticket commits: %w", err)
	}
	defer rows.Close()

	var links []*core.TicketCommit
	for rows.Next() {
		var l core.TicketCommit
		if err := rows.Scan(&l.ID, &l.TicketID, &l.CommitSHA, &l.LinkedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

func insertHistory(ctx context.Context, q execer, h *core.TicketHistory) error {
	if h == nil {
		return nil
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO ticket_history (id, ticket_id, actor_id, change_type, old_value, new_value, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.TicketID, h.ActorID, h.ChangeType, h.OldValue, h.NewValue, h.Description, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting ticket history: %w", err)
	}
	return nil
}

// ListTicketHistory returns the audit trail of a ticket, oldest first.
func (s *Store) ListTicketHistory(ctx context.Context, ticketID string) ([]*core.TicketHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, actor_id, change_type, old_value, new_value, description, created_at
		FROM ticket_history WHERE ticket_id = ? ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("querying ticket history: %w", err)
	}
	defer rows.Close()

	var history []*core.TicketHistory
	for rows.Next() {
		var h core.TicketHistory
		if err := rows.Scan(&h.ID, &h.TicketID, &h.ActorID, &h.ChangeType,
			&h.OldValue, &h.NewValue, &h.Description, &h.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

// SaveBoardConfig upserts the board of a workflow.
func (s *Store) SaveBoardConfig(ctx context.Context, b *core.BoardConfig) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_configs (id, workflow_id, columns, allowed_types, initial_status, ticket_human_review, approval_timeout_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			columns = excluded.columns,
			allowed_types = excluded.allowed_types,
			initial_status = excluded.initial_status,
			ticket_human_review = excluded.ticket_human_review,
			approval_timeout_seconds = excluded.approval_timeout_seconds`,
		b.ID, b.WorkflowID, marshalJSON(b.Columns), marshalJSON(b.AllowedTypes),
		b.InitialStatus, b.TicketHumanReview, b.ApprovalTimeoutSeconds,
	)
	if err != nil {
		return fmt.Errorf("saving board config: %w", err)
	}
	return nil
}

// GetBoardConfig loads the board of one workflow.
func (s *Store) GetBoardConfig(ctx context.Context, workflowID string) (*core.BoardConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, columns, allowed_types, initial_status, ticket_human_review, approval_timeout_seconds
		FROM board_configs WHERE workflow_id = ?`, workflowID)

	var b core.BoardConfig
	var columns, allowed string
	err := row.Scan(&b.ID, &b.WorkflowID, &columns, &allowed, &b.InitialStatus,
		&b.TicketHumanReview, &b.ApprovalTimeoutSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("board config", workflowID)
	}
	if err != nil {
		return nil, err
	}
	b.Columns = unmarshalStrings(columns)
	b.AllowedTypes = unmarshalStrings(allowed)
	return &b, nil
}

// AnyBoardConfig reports whether ticket tracking is enabled anywhere, which
// globally gates ticketless task creation for non-root callers.
func (s *Store) AnyBoardConfig(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM board_configs`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
