package profile

import "errors"

// Sentinel kinds for profile errors.
var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidName  = errors.New("invalid user name")
	ErrInvalidKey   = errors.New("invalid property key")
	ErrInvalidValue = errors.New("value is not JSON compatible")
)
