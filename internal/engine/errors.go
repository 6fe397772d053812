package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrStaleState           = errors.New("state changed concurrently; re-fetch and retry")
	ErrMissingRationale     = errors.New("comment is required")
	ErrNoInspectorsAssigned = errors.New("no inspectors assigned")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrMissionOrderLocked   = errors.New("mission order is locked")
	ErrCaseNotApproved      = errors.New("case is not approved")
	ErrUpstreamUnavailable  = errors.New("upstream service unavailable")
	ErrIntakeClosed         = errors.New("intake session already submitted")
	ErrInvalidInput         = errors.New("invalid input")
)

// ValidationError names the field or precondition a request failed on.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, reason string, err error) error {
	if err == nil {
		err = ErrInvalidInput
	}
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

func invalidTransition(kind, from, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, from, to)
}
