// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Session errors.
	ErrSessionClosed = errors.New("session closed")
	ErrNoRecords     = errors.New("no records to reconcile")

	// Analysis errors.
	ErrInFlight        = errors.New("analysis already in flight")
	ErrAnalysisTimeout = errors.New("analysis timed out")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError reports a rejected field with enough detail to drive
// exception reporting. Row-level validation failures are collected, never
// fatal; a rule configuration failure is fatal for session start.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StateError reports a rejected record status transition, either because
// the transition is not permitted or because the record version observed
// by the caller is stale. The caller must re-read and retry.
type StateError struct {
	RecordID string
	From     string
	To       string
	Reason   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid transition for record %s: %s -> %s: %s", e.RecordID, e.From, e.To, e.Reason)
}

// NewStateError creates a state error for a rejected transition.
func NewStateError(recordID, from, to, reason string) error {
	return &StateError{RecordID: recordID, From: from, To: to, Reason: reason}
}

// AnalysisError reports a recoverable failure in the exception analysis
// path. It never crashes a session; the affected records fall back to
// unmatched with a reason code.
type AnalysisError struct {
	Err    error
	TaskID string
	Reason string
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis task %s failed: %s: %v", e.TaskID, e.Reason, e.Err)
	}
	return fmt.Sprintf("analysis task %s failed: %s", e.TaskID, e.Reason)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// NewAnalysisError creates an analysis error with a reason code.
func NewAnalysisError(taskID, reason string, err error) error {
	return &AnalysisError{TaskID: taskID, Reason: reason, Err: err}
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrAnalysisTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
