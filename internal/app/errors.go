package app

import "errors"

// Errors returned by Context.
var (
	// ErrContextInUse means another context already owns the study's data
	// directory.
	ErrContextInUse = errors.New("study context already open")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("study context closed")
	// ErrInvalidOption reports an unusable Open option.
	ErrInvalidOption = errors.New("invalid context option")
)
