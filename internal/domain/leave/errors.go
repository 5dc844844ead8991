package leave

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed input rejected before any instance exists
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an instance is unknown or archived
	ErrNotFound = errors.New("instance not found")

	// ErrAlreadyExists is returned when Submit collides with a live or retained instance
	ErrAlreadyExists = errors.New("instance already exists")

	// ErrHalted is returned when an instance stopped after a durability failure
	ErrHalted = errors.New("instance halted")

	// ErrNotCompleted is returned when archiving an instance that has not completed
	ErrNotCompleted = errors.New("instance not completed")
)

// ValidationError describes a single invalid field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
