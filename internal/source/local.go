package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// LocalFetcher reads documentation from a directory tree.
type LocalFetcher struct{}

func NewLocalFetcher() *LocalFetcher { return &LocalFetcher{} }

// ListFiles implements Fetcher for local sources.
func (f *LocalFetcher) ListFiles(ctx context.Context, src Source, pattern string) ([]File, error) {
	local, ok := src.(Local)
	if !ok {
		return nil, fmt.Errorf("%w: local fetcher cannot read %s", ErrInvalidSource, src)
	}
	info, err := os.Stat(local.Root)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%s: %w", local.Root, ErrSourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	fsys := os.DirFS(local.Root)
	paths, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidSource, pattern, err)
	}
	sort.Strings(paths)

	files := make([]File, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrFetchFailed, p, err)
		}
		file := File{Path: p, Content: content, Size: int64(len(content))}
		if st, err := fs.Stat(fsys, p); err == nil {
			file.ModTime = st.ModTime().UTC()
		}
		files = append(files, file)
	}
	return files, nil
}

// Router dispatches to the fetcher for each source kind.
type Router struct {
	GitHub Fetcher
	Local  Fetcher
}

// ListFiles implements Fetcher.
func (r *Router) ListFiles(ctx context.Context, src Source, pattern string) ([]File, error) {
	switch src.(type) {
	case GitHub:
		if r.GitHub == nil {
			return nil, fmt.Errorf("%w: no GitHub fetcher configured", ErrInvalidSource)
		}
		return r.GitHub.ListFiles(ctx, src, pattern)
	case Local:
		if r.Local == nil {
			return nil, fmt.Errorf("%w: no local fetcher configured", ErrInvalidSource)
		}
		return r.Local.ListFiles(ctx, src, pattern)
	default:
		return nil, fmt.Errorf("%w: %s has no files to fetch", ErrInvalidSource, src)
	}
}
