package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflicting change")
	ErrAlreadyExists     = errors.New("already exists")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransitionError describes a refused status change. It matches
// ErrInvalidTransition with errors.Is.
type TransitionError struct {
	EntryID string
	From    Status
	Action  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s entry %s while it is %s", e.Action, e.EntryID, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
