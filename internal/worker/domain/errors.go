package domain

import "errors"

var (
	// ErrInvalidPayload is returned when an event body cannot be used
	ErrInvalidPayload = errors.New("invalid event payload")

	// ErrMaxRetriesExceeded is returned when an event has been redelivered too often
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
