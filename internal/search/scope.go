package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/bull/docsearch-mcp/internal/storage"
)

var ErrUnknownScope = errors.New("unknown library or version")

// Catalog looks up libraries and versions.
type Catalog interface {
	GetLibraryByName(ctx context.Context, name string) (*storage.Library, error)
	GetVersionByName(ctx context.Context, libraryID, version string) (*storage.LibraryVersion, error)
	GetLatestVersion(ctx context.Context, libraryID string) (*storage.LibraryVersion, error)
}

// ResolveVersion maps a library name and optional version string to a version
// id. An empty library means no scope. An empty version selects the latest.
func ResolveVersion(ctx context.Context, catalog Catalog, library, version string) (string, error) {
	if library == "" {
		if version != "" {
			return "", fmt.Errorf("%w: version %q given without a library", ErrUnknownScope, version)
		}
		return "", nil
	}
	lib, err := catalog.GetLibraryByName(ctx, library)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: library %q", ErrUnknownScope, library)
	}
	if err != nil {
		return "", err
	}

	var v *storage.LibraryVersion
	if version == "" {
		v, err = catalog.GetLatestVersion(ctx, lib.ID)
	} else {
		v, err = catalog.GetVersionByName(ctx, lib.ID, version)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s@%s", ErrUnknownScope, library, orLatest(version))
	}
	if err != nil {
		return "", err
	}
	return v.ID, nil
}

func orLatest(version string) string {
	if version == "" {
		return "latest"
	}
	return version
}
