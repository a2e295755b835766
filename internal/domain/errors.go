package domain

import "errors"

// Sentinel errors shared across storage and cache implementations.
// Wrap with %w so callers can match them with errors.Is.
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)
