package core

import "time"

// ResultValidationStatus tracks validator verdicts on submitted deliverables.
type ResultValidationStatus string

const (
	ResultPendingValidation ResultValidationStatus = "pending_validation"
	ResultVerified          ResultValidationStatus = "verified"
	ResultRejected          ResultValidationStatus = "rejected"
)

// AgentResult is a per-task artifact reported by an agent.
type AgentResult struct {
	ID               string
	TaskID           string
	AgentID          string
	ResultType       string
	MarkdownFilePath string
	ExtraFiles       []string
	Summary          string
	ValidationStatus ResultValidationStatus
	Feedback         string
	CreatedAt        time.Time
}

// WorkflowResult is the workflow-level deliverable checked against
// the definition's result criteria.
type WorkflowResult struct {
	ID               string
	WorkflowID       string
	SubmittedBy      string
	MarkdownFilePath string
	Explanation      string
	ValidationStatus ResultValidationStatus
	Feedback         string
	CreatedAt        time.Time
}

// ValidationReview records one validator iteration over a task.
type ValidationReview struct {
	ID               string
	TaskID           string
	ValidatorAgentID string
	Iteration        int
	Passed           bool
	Feedback         string
	CreatedAt        time.Time
}

// SteeringIntervention records an operator or monitor nudge delivered to an
// agent session. Cleared when the task restarts.
type SteeringIntervention struct {
	ID        string
	AgentID   string
	TaskID    string
	Message   string
	CreatedAt time.Time
}

// GuardianAnalysis is a monitoring verdict row kept for audit. Cleared when
// the task restarts.
type GuardianAnalysis struct {
	ID        string
	AgentID   string
	TaskID    string
	Verdict   string
	Detail    string
	CreatedAt time.Time
}
