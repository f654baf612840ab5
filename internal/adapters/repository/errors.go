package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound    = errors.New("result not found")
	ErrInvalidUser = errors.New("invalid result owner")
)
