package domain

import "errors"

// Domain errors represent business logic failures, distinct from the
// infrastructure errors each adapter package defines for itself.
var (
	// ErrNotFound indicates a requested record does not exist in the
	// result store.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input, such as an
	// unparsable URL or cursor.
	ErrInvalidInput = errors.New("invalid input")
)
