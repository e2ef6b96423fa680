package models

import "errors"

// Domain error categories. Components wrap these with context; boundaries
// branch on them with errors.Is.
var (
	// ErrInvalidInput marks a malformed observation (non-positive sigma,
	// out-of-order timestamp). State is never mutated by a rejected input.
	ErrInvalidInput = errors.New("invalid input")
)
