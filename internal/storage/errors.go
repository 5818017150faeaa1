package storage

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrSyncInProgress    = errors.New("sync already running for version")
	ErrInvalidTransition = errors.New("invalid sync status transition")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
