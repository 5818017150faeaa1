package syncer

import (
	"errors"

	"github.com/bull/docsearch-mcp/internal/storage"
)

var (
	// ErrSkipped means the version has no fetchable source. No history is written.
	ErrSkipped = errors.New("sync skipped")
	// ErrSyncFailed means the run finished and was recorded as FAILED.
	ErrSyncFailed     = errors.New("sync failed")
	ErrSyncInProgress = storage.ErrSyncInProgress
	ErrNotFound       = storage.ErrNotFound
)
