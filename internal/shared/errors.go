package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("validation failed")
)

// ConflictError reports an operation that collided with an already existing
// entity. ExistingID references the entity the caller can recover with.
type ConflictError struct {
	Reason     string
	Entity     string
	ExistingID int64
}

func (e *ConflictError) Error() string {
	if e.ExistingID > 0 {
		return fmt.Sprintf("conflict: %s (existing %s id %d)", e.Reason, e.Entity, e.ExistingID)
	}
	return "conflict: " + e.Reason
}

// NewConflict builds a ConflictError.
func NewConflict(reason, entity string, existingID int64) *ConflictError {
	return &ConflictError{Reason: reason, Entity: entity, ExistingID: existingID}
}

// AsConflict unwraps a ConflictError from an error chain.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
