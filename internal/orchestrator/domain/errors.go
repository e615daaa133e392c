package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotCancellable is returned when cancellation is requested for a
	// job that is already in a terminal state
	ErrJobNotCancellable = errors.New("job is not in a cancellable state")

	// ErrResultNotReady is returned when the worker keeps reporting a pending
	// result past the retry budget. The job itself remains in success.
	ErrResultNotReady = errors.New("result not yet materialized")

	// ErrDuplicateSubmission is returned when an idempotency key collides
	// with an existing job
	ErrDuplicateSubmission = errors.New("job with this idempotency key already exists")
)

// Sentinel errors classifying failures per the orchestration error taxonomy.
// Classified via errors.Is().
var (
	ErrValidation   = errors.New("validation error")
	ErrSubmission   = errors.New("submission error")
	ErrExecution    = errors.New("execution error")
	ErrCancellation = errors.New("cancellation error")
)

// Error is a structured orchestration error carrying classification context.
type Error struct {
	Sentinel error  // wrapped sentinel for errors.Is() classification
	Message  string // human-readable message
	Op       string // operation that failed (e.g. "worker.submit")
	Cause    error  // underlying error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches the
// classification and the underlying failure alike.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

// SubmissionError creates a submission error wrapping an underlying cause.
func SubmissionError(op string, cause error) error {
	return &Error{
		Sentinel: ErrSubmission,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// ExecutionError creates an execution error from the worker's failure message.
func ExecutionError(message string) error {
	return &Error{
		Sentinel: ErrExecution,
		Message:  message,
	}
}

// CancellationError creates a cancellation error wrapping an underlying cause.
func CancellationError(op string, cause error) error {
	return &Error{
		Sentinel: ErrCancellation,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// ValidationError reports invalid or missing submission inputs. It names
// every offending input, not just the first.
type ValidationError struct {
	Message       string
	MissingInputs []string
}

func (e *ValidationError) Error() string {
	if len(e.MissingInputs) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.MissingInputs, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a validation error with an optional list of
// missing input paths.
func NewValidationError(message string, missing ...string) error {
	return &ValidationError{
		Message:       message,
		MissingInputs: missing,
	}
}
