package events

// Validation and result event types.
const (
	TypeValidationStarted         = "validation_started"
	TypeValidationPassed          = "validation_passed"
	TypeValidationFailed          = "validation_failed"
	TypeResultSubmitted           = "result_submitted"
	TypeResultValidationCompleted = "result_validation_completed"
)

// ValidationEvent reports validator iterations over a task.
type ValidationEvent struct {
	BaseEvent
	TaskID           string `json:"task_id"`
	ValidatorAgentID string `json:"validator_agent_id,omitempty"`
	Iteration        int    `json:"iteration,omitempty"`
	Feedback         string `json:"feedback,omitempty"`
}

// NewValidationStartedEvent signals a validator spawn for a task.
func NewValidationStartedEvent(workflowID, taskID, validatorID string, iteration int) *ValidationEvent {
	return &ValidationEvent{
		BaseEvent:        NewBaseEvent(TypeValidationStarted, workflowID),
		TaskID:           taskID,
		ValidatorAgentID: validatorID,
		Iteration:        iteration,
	}
}

// NewValidationPassedEvent signals a passing verdict.
func NewValidationPassedEvent(workflowID, taskID string, iteration int) *ValidationEvent {
	return &ValidationEvent{
		BaseEvent: NewBaseEvent(TypeValidationPassed, workflowID),
		TaskID:    taskID,
		Iteration: iteration,
	}
}

// NewValidationFailedEvent signals a failing verdict with feedback.
func NewValidationFailedEvent(workflowID, taskID, feedback string, iteration int) *ValidationEvent {
	return &ValidationEvent{
		BaseEvent: NewBaseEvent(TypeValidationFailed, workflowID),
		TaskID:    taskID,
		Feedback:  feedback,
		Iteration: iteration,
	}
}

// ResultEvent reports workflow-level result submission and validation.
type ResultEvent struct {
	BaseEvent
	ResultID string `json:"result_id"`
	Passed   bool   `json:"passed,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// NewResultSubmittedEvent signals a candidate workflow result.
func NewResultSubmittedEvent(workflowID, resultID string) *ResultEvent {
	return &ResultEvent{
		BaseEvent: NewBaseEvent(TypeResultSubmitted, workflowID),
		ResultID:  resultID,
	}
}

// NewResultValidationCompletedEvent signals a result validator verdict.
func NewResultValidationCompletedEvent(workflowID, resultID string, passed bool, feedback string) *ResultEvent {
	return &ResultEvent{
		BaseEvent: NewBaseEvent(TypeResultValidationCompleted, workflowID),
		ResultID:  resultID,
		Passed:    passed,
		Feedback:  feedback,
	}
}
