package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity or request fails validation.
	// Validation errors are caller bugs and are never retried.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when a workflow state is not one of the known states.
	ErrInvalidState = fmt.Errorf("%w: invalid workflow state", ErrValidation)

	// ErrInvalidTransition is returned when a workflow cannot move to the requested state,
	// either because the workflow does not exist or the edge is not permitted.
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrValidation)

	// ErrEmptyWorkflowType is returned when a workflow is created without a type.
	ErrEmptyWorkflowType = fmt.Errorf("%w: workflow type cannot be empty", ErrValidation)

	// ErrEmptyEntityID is returned when a workflow is created without an entity ID.
	ErrEmptyEntityID = fmt.Errorf("%w: entity ID cannot be empty", ErrValidation)
)

// InvalidTransitionError describes a rejected state transition.
// It matches ErrInvalidTransition (and therefore ErrValidation) with errors.Is.
type InvalidTransitionError struct {
	WorkflowID int64
	From       State
	To         State
	Reason     string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("invalid transition for workflow %d to %s: %s", e.WorkflowID, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition for workflow %d from %s to %s: %s",
		e.WorkflowID, e.From, e.To, e.Reason)
}

// Unwrap returns ErrInvalidTransition so errors.Is works against the sentinel chain.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewInvalidTransitionError creates an InvalidTransitionError.
func NewInvalidTransitionError(id int64, from, to State, reason string) *InvalidTransitionError {
	return &InvalidTransitionError{
		WorkflowID: id,
		From:       from,
		To:         to,
		Reason:     reason,
	}
}
