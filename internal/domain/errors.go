package domain

import "errors"

var (
	// ErrValidation marks malformed or empty caller input. Nothing is mutated.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing batch, item, or activity record.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation that is not valid in the current lifecycle state.
	ErrConflict = errors.New("conflict")
)
