package core

import "time"

// Phase is a concrete phase instance belonging to one workflow execution.
// Its textual fields are the launch-param substitution of the definition's
// phase template.
type Phase struct {
	ID               string
	WorkflowID       string
	Order            int // 1-based, unique per workflow
	Name             string
	Description      string
	DoneDefinitions  []string
	AdditionalNotes  string
	Outputs          []string
	NextSteps        string
	WorkingDirectory string
	Validation       string
	CLI              CLIOverrides
	CreatedAt        time.Time
}

// PhaseExecutionStatus tracks progress of a phase within its execution.
type PhaseExecutionStatus string

const (
	PhaseExecPending    PhaseExecutionStatus = "pending"
	PhaseExecInProgress PhaseExecutionStatus = "in_progress"
	PhaseExecCompleted  PhaseExecutionStatus = "completed"
)

// PhaseExecution is the progress row for one phase of one execution.
type PhaseExecution struct {
	ID          string
	PhaseID     string
	WorkflowID  string
	Order       int
	Status      PhaseExecutionStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ValidationEnabled reports whether tasks in this phase run the validator loop.
func (p *Phase) ValidationEnabled() bool {
	return p.Validation != "" && p.Validation != "none"
}
