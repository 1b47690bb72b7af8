package core

import (
	"time"
)

// ApprovalStatus is the human-review gate state of a ticket.
type ApprovalStatus string

const (
	ApprovalAutoApproved  ApprovalStatus = "auto_approved"
	ApprovalPendingReview ApprovalStatus = "pending_review"
	ApprovalApproved      ApprovalStatus = "approved"
	ApprovalRejected      ApprovalStatus = "rejected"
)

// Ticket is a work item on a workflow's kanban board. Status is a board
// column defined by the workflow's BoardConfig, not a fixed enum.
type Ticket struct {
	ID                 string
	WorkflowID         string
	Title              string
	Description        string
	TicketType         string
	Priority           TaskPriority
	Status             string
	ApprovalStatus     ApprovalStatus
	RejectionReason    string
	ParentTicketID     string
	BlockedByTicketIDs []string
	IsResolved         bool
	CreatedByAgentID   string
	AssignedAgentID    string
	Tags               []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ResolvedAt         *time.Time
}

// Validate checks ticket invariants.
func (t *Ticket) Validate() error {
	if t.WorkflowID == "" {
		return ErrValidation("WORKFLOW_ID_REQUIRED", "workflow_id cannot be empty")
	}
	if len(t.Title) < 3 {
		return ErrValidation("TITLE_TOO_SHORT", "title must be at least 3 characters")
	}
	if len(t.Description) < 10 {
		return ErrValidation("DESCRIPTION_TOO_SHORT", "description must be at least 10 characters")
	}
	return nil
}

// IsReadyForWork reports whether tasks may be spawned against this ticket:
// no unresolved blockers recorded on the row and the human gate passed.
func (t *Ticket) IsReadyForWork() bool {
	if t.IsResolved {
		return false
	}
	switch t.ApprovalStatus {
	case ApprovalApproved, ApprovalAutoApproved:
		return true
	}
	return false
}

// TicketComment is a comment attached to a ticket. CommentType distinguishes
// ordinary discussion from status-change notes and LLM clarifications.
type TicketComment struct {
	ID          string
	TicketID    string
	AuthorID    string
	CommentType string // comment, status_change, clarification, resolution
	Text        string
	CreatedAt   time.Time
}

// TicketHistory is an append-only audit row recorded on every ticket write.
type TicketHistory struct {
	ID          string
	TicketID    string
	ActorID     string
	ChangeType  string // created, field_update, status_change, comment, commit_link, approval_change, resolved
	OldValue    string // JSON
	NewValue    string // JSON
	Description string
	CreatedAt   time.Time
}

// TicketCommit links a git commit to a ticket.
type TicketCommit struct {
	ID        string
	TicketID  string
	CommitSHA string
	LinkedBy  string
	CreatedAt time.Time
}

// BoardConfig defines the kanban board of one workflow: its columns, which
// ticket types are allowed, where new tickets land, and the human-review gate.
type BoardConfig struct {
	ID                     string   `json:"id" yaml:"id"`
	WorkflowID             string   `json:"workflow_id" yaml:"workflow_id"`
	Columns                []string `json:"columns" yaml:"columns"`
	AllowedTypes           []string `json:"allowed_types" yaml:"allowed_types"`
	InitialStatus          string   `json:"initial_status" yaml:"initial_status"`
	TicketHumanReview      bool     `json:"ticket_human_review" yaml:"ticket_human_review"`
	ApprovalTimeoutSeconds int      `json:"approval_timeout_seconds" yaml:"approval_timeout_seconds"`
}

// HasColumn reports whether status is a legal board column.
func (b *BoardConfig) HasColumn(status string) bool {
	for _, c := range b.Columns {
		if c == status {
			return true
		}
	}
	return false
}

// AllowsType reports whether the ticket type is permitted on this board.
// An empty allowlist permits every type.
func (b *BoardConfig) AllowsType(ticketType string) bool {
	if len(b.AllowedTypes) == 0 {
		return true
	}
	for _, t := range b.AllowedTypes {
		if t == ticketType {
			return true
		}
	}
	return false
}

// DefaultBoardColumns is the column set used when a workflow enables tickets
// without supplying a board config.
var DefaultBoardColumns = []string{"backlog", "in_progress", "review", "done"}
