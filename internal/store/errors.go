package store

import "fmt"

// ErrNotFound is returned when a row lookup has no result.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}

// ImmutabilityViolationError is returned on any write attempt against a row
// that has been marked immutable.
type ImmutabilityViolationError struct {
	Entity string
	ID     string
}

func (e ImmutabilityViolationError) Error() string {
	return fmt.Sprintf("%s %s is immutable and cannot be modified", e.Entity, e.ID)
}

// IsImmutabilityViolation returns true if the error is an
// ImmutabilityViolationError.
func IsImmutabilityViolation(err error) bool {
	_, ok := err.(ImmutabilityViolationError)
	return ok
}
