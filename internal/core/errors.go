package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatSemantic   ErrorCategory = "semantic"   // Well-formed but not allowed
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatAuth       ErrorCategory = "auth"       // Caller not recognized or not permitted
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a schema validation error (HTTP 422).
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrSemantic creates a semantic validation error (HTTP 400).
func ErrSemantic(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatSemantic,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authorization error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrForbidden creates a role-mismatch error (HTTP 403).
func ErrForbidden(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "FORBIDDEN",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes.
const (
	CodeTaskNotFound       = "TASK_NOT_FOUND"
	CodeTicketNotFound     = "TICKET_NOT_FOUND"
	CodeAgentNotFound      = "AGENT_NOT_FOUND"
	CodeWorkflowNotFound   = "WORKFLOW_NOT_FOUND"
	CodePhaseNotFound      = "PHASE_NOT_FOUND"
	CodeInvalidState       = "INVALID_STATE"
	CodeLockAcquireFailed  = "LOCK_ACQUIRE_FAILED"
	CodeMergeFailed        = "MERGE_FAILED"
	CodeWorktreeFailed     = "WORKTREE_FAILED"
	CodeSessionFailed      = "SESSION_FAILED"
	CodePromptDelivery     = "PROMPT_DELIVERY_FAILED"
	CodeTicketRequired     = "TICKET_REQUIRED"
	CodeMissingField       = "MISSING_FIELD"
	CodeNotValidator       = "NOT_A_VALIDATOR"
	CodeDefinitionInUse    = "DEFINITION_IN_USE"
	CodeResultCriteria     = "RESULT_CRITERIA_REQUIRED"
	CodeUnknownCLITool     = "UNKNOWN_CLI_TOOL"
	CodeApprovalPending    = "APPROVAL_PENDING"
	CodeBlockedByTickets   = "BLOCKED_BY_TICKETS"
	CodeQueueEntryNotFound = "QUEUE_ENTRY_NOT_FOUND"
)
