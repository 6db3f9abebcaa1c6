package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested route does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("storage: invalid input")
)
