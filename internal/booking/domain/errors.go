package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a request is malformed or misses fields
	ErrValidation = errors.New("validation failed")

	// ErrIllegalTransition is returned when a status change is not in the allowed table
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrAlreadyBooked is returned when a translator already holds an overlapping booking
	ErrAlreadyBooked = errors.New("translator already booked at that time")

	// ErrCancellationWindowClosed is returned when a translator cancels within 24 hours of due
	ErrCancellationWindowClosed = errors.New("cancellation window closed")

	// ErrInvalidJobType is returned for a job type with no translator pool
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidContactConfiguration is returned for an unrecognized phone/physical combination
	ErrInvalidContactConfiguration = errors.New("invalid contact configuration")

	// ErrTransportFailure is returned when a notification could not be handed to the transport
	ErrTransportFailure = errors.New("transport failure")

	// ErrJobNotFound is returned when a job cannot be found
	ErrJobNotFound = errors.New("job not found")

	// ErrUserNotFound is returned when the directory has no such user
	ErrUserNotFound = errors.New("user not found")

	// ErrNoActiveAssignment is returned when an operation needs an active assignment and there is none
	ErrNoActiveAssignment = errors.New("no active assignment")

	// ErrActiveAssignmentExists is returned when inserting a second active assignment for a job
	ErrActiveAssignmentExists = errors.New("job already has an active assignment")
)

// ValidationError reports a single invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// NewTransitionError creates a new transition error
func NewTransitionError(from, to Status, reason string) error {
	return &TransitionError{From: from, To: to, Reason: reason}
}

// IsDataIntegrity reports whether err signals an unrecognized enum
// combination in stored data rather than a caller mistake.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrInvalidJobType) || errors.Is(err, ErrInvalidContactConfiguration)
}

// IsBusinessRejection reports whether err is a rule-based rejection that
// leaves state untouched and should be shown to the user.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrAlreadyBooked) ||
		errors.Is(err, ErrCancellationWindowClosed) ||
		errors.Is(err, ErrNoActiveAssignment)
}
