package events

// Ticket event types.
const (
	TypeTicketCreated                = "ticket_created"
	TypeTicketUpdated                = "ticket_updated"
	TypeTicketStatusChanged          = "ticket_status_changed"
	TypeTicketCommentAdded           = "ticket_comment_added"
	TypeTicketApproved               = "ticket_approved"
	TypeTicketRejected               = "ticket_rejected"
	TypeTicketClarificationRequested = "ticket_clarification_requested"
	TypeTicketResolved               = "ticket_resolved"
	TypeCommitLinked                 = "commit_linked"
	TypeTicketCommitLinked           = "ticket_commit_linked"
)

// TicketEvent reports a ticket board change.
type TicketEvent struct {
	BaseEvent
	TicketID  string   `json:"ticket_id"`
	Status    string   `json:"status,omitempty"`
	OldStatus string   `json:"old_status,omitempty"`
	ActorID   string   `json:"actor_id,omitempty"`
	CommitSHA string   `json:"commit_sha,omitempty"`
	Unblocked []string `json:"unblocked_ticket_ids,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// NewTicketCreatedEvent signals a new ticket on the board.
func NewTicketCreatedEvent(workflowID, ticketID, status, actorID string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketCreated, workflowID),
		TicketID:  ticketID,
		Status:    status,
		ActorID:   actorID,
	}
}

// NewTicketUpdatedEvent signals a field update.
func NewTicketUpdatedEvent(workflowID, ticketID, actorID string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketUpdated, workflowID),
		TicketID:  ticketID,
		ActorID:   actorID,
	}
}

// NewTicketStatusChangedEvent signals a column transition.
func NewTicketStatusChangedEvent(workflowID, ticketID, oldStatus, newStatus, actorID string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketStatusChanged, workflowID),
		TicketID:  ticketID,
		OldStatus: oldStatus,
		Status:    newStatus,
		ActorID:   actorID,
	}
}

// NewTicketCommentAddedEvent signals a new comment.
func NewTicketCommentAddedEvent(workflowID, ticketID, actorID string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketCommentAdded, workflowID),
		TicketID:  ticketID,
		ActorID:   actorID,
	}
}

// NewTicketApprovedEvent signals the human gate opening.
func NewTicketApprovedEvent(workflowID, ticketID string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketApproved, workflowID),
		TicketID:  ticketID,
	}
}

// NewTicketRejectedEvent signals a human rejection with its reason.
func NewTicketRejectedEvent(workflowID, ticketID, reason string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketRejected, workflowID),
		TicketID:  ticketID,
		Reason:    reason,
	}
}

// NewTicketClarificationRequestedEvent signals an arbitration run.
func NewTicketClarificationRequestedEvent(workflowID, ticketID, actorID string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketClarificationRequested, workflowID),
		TicketID:  ticketID,
		ActorID:   actorID,
	}
}

// NewTicketResolvedEvent signals resolution plus the tickets it unblocked.
func NewTicketResolvedEvent(workflowID, ticketID string, unblocked []string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketResolved, workflowID),
		TicketID:  ticketID,
		Unblocked: unblocked,
	}
}

// NewCommitLinkedEvent signals a commit linked through a merge.
func NewCommitLinkedEvent(workflowID, ticketID, commitSHA string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeCommitLinked, workflowID),
		TicketID:  ticketID,
		CommitSHA: commitSHA,
	}
}

// NewTicketCommitLinkedEvent signals a commit linked through the API.
func NewTicketCommitLinkedEvent(workflowID, ticketID, commitSHA, actorID string) *TicketEvent {
	return &TicketEvent{
		BaseEvent: NewBaseEvent(TypeTicketCommitLinked, workflowID),
		TicketID:  ticketID,
		CommitSHA: commitSHA,
		ActorID:   actorID,
	}
}
