package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrUnsupported indicates a file format or operation is not supported
	ErrUnsupported = errors.New("unsupported")

	// ErrConflict indicates a destination file conflict
	ErrConflict = errors.New("destination conflict")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrLocked indicates another process holds an exclusive lock
	ErrLocked = errors.New("locked by another process")
)
