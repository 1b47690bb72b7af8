package core

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending              TaskStatus = "pending"
	TaskStatusQueued               TaskStatus = "queued"
	TaskStatusBlocked              TaskStatus = "blocked"
	TaskStatusAssigned             TaskStatus = "assigned"
	TaskStatusInProgress           TaskStatus = "in_progress"
	TaskStatusUnderReview          TaskStatus = "under_review"
	TaskStatusValidationInProgress TaskStatus = "validation_in_progress"
	TaskStatusNeedsWork            TaskStatus = "needs_work"
	TaskStatusDone                 TaskStatus = "done"
	TaskStatusFailed               TaskStatus = "failed"
	TaskStatusDuplicated           TaskStatus = "duplicated"
)

// TaskPriority orders tasks in the admission queue.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Weight maps a priority to its queue ordering weight.
func (p TaskPriority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Task is a unit of work driven by one agent.
type Task struct {
	ID                     string
	RawDescription         string
	EnrichedDescription    string
	DoneDefinition         string
	CompletionCriteria     string
	EstimatedComplexity    int
	Status                 TaskStatus
	Priority               TaskPriority
	PriorityBoosted        bool
	AssignedAgentID        string
	CreatedByAgentID       string
	ParentTaskID           string
	PhaseID                string
	WorkflowID             string
	TicketID               string
	WorkingDirectory       string
	ValidationEnabled      bool
	ValidationIteration    int
	LastValidationFeedback string
	DuplicateOfTaskID      string
	SimilarityScore        float64
	RelatedTaskIDs         []RelatedTask
	FailureReason          string
	CompletionNotes        string
	QueuedAt               *time.Time
	CompletedAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// RelatedTask records a near-duplicate candidate found at creation time.
type RelatedTask struct {
	TaskID string  `json:"task_id"`
	Score  float64 `json:"score"`
}

// NewTask creates a pending task with required fields.
func NewTask(id, rawDescription, doneDefinition, createdBy, workflowID string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:               id,
		RawDescription:   rawDescription,
		DoneDefinition:   doneDefinition,
		CreatedByAgentID: createdBy,
		WorkflowID:       workflowID,
		Status:           TaskStatusPending,
		Priority:         PriorityMedium,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task ID cannot be empty")
	}
	if t.RawDescription == "" {
		return ErrValidation("TASK_DESCRIPTION_REQUIRED", "task_description cannot be empty")
	}
	if t.WorkflowID == "" {
		return ErrValidation("WORKFLOW_ID_REQUIRED", "workflow_id cannot be empty")
	}
	if t.Status == TaskStatusDuplicated && t.AssignedAgentID != "" {
		return ErrState(CodeInvalidState, "duplicated tasks cannot have an assigned agent")
	}
	if t.Status == TaskStatusBlocked && t.AssignedAgentID != "" {
		return ErrState(CodeInvalidState, "blocked tasks cannot have an assigned agent")
	}
	return nil
}

// Description returns the enriched description, falling back to the raw one.
func (t *Task) Description() string {
	if t.EnrichedDescription != "" {
		return t.EnrichedDescription
	}
	return t.RawDescription
}

// IsTerminal reports whether the task reached a final state.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusDone, TaskStatusFailed, TaskStatusDuplicated:
		return true
	}
	return false
}

// IsIncomplete reports whether the task still counts against phase completion.
func (t *Task) IsIncomplete() bool {
	return !t.IsTerminal()
}

// IsRestartable reports whether the task may be replayed.
func (t *Task) IsRestartable() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusFailed
}
