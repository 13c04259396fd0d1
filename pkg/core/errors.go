package core

import "errors"

// Common errors.
var (
	ErrReadOnly    = errors.New("repository is in read-only mode")
	ErrNotFound    = errors.New("session not found")
	ErrExists      = errors.New("session already exists")
	ErrClosed      = errors.New("closed")
	ErrUnsupported = errors.New("operation not supported by repository")
)
