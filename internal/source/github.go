package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v81/github"
)

// GitHubFetcher walks a repository directory through the contents API.
type GitHubFetcher struct {
	client     *github.Client
	logger     *slog.Logger
	maxElapsed time.Duration
}

func NewGitHubFetcher(client *github.Client, logger *slog.Logger) *GitHubFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubFetcher{client: client, logger: logger, maxElapsed: 30 * time.Second}
}

// ListFiles implements Fetcher for GitHub sources.
func (f *GitHubFetcher) ListFiles(ctx context.Context, src Source, pattern string) ([]File, error) {
	gh, ok := src.(GitHub)
	if !ok {
		return nil, fmt.Errorf("%w: github fetcher cannot read %s", ErrInvalidSource, src)
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: bad pattern %q", ErrInvalidSource, pattern)
	}

	paths, err := f.walk(ctx, gh, gh.DocsPath, "", pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	files := make([]File, 0, len(paths))
	for _, rel := range paths {
		file, err := f.fetch(ctx, gh, rel)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	f.logger.Debug("Listed GitHub files", "source", gh.String(), "files", len(files))
	return files, nil
}

// walk recursively collects relative paths under dir that match pattern.
func (f *GitHubFetcher) walk(ctx context.Context, gh GitHub, dir, rel, pattern string) ([]string, error) {
	_, entries, err := f.getContents(ctx, gh, dir)
	if err != nil {
		if rel == "" && errors.Is(err, ErrSourceNotFound) {
			return nil, fmt.Errorf("%s: %w", gh, ErrSourceNotFound)
		}
		return nil, err
	}

	var out []string
	for _, item := range entries {
		name := item.GetName()
		if name == "" {
			continue
		}
		itemRel := path.Join(rel, name)
		switch item.GetType() {
		case "file":
			if ok, _ := doublestar.Match(pattern, itemRel); ok {
				out = append(out, itemRel)
			}
		case "dir":
			sub, err := f.walk(ctx, gh, path.Join(dir, name), itemRel, pattern)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

func (f *GitHubFetcher) fetch(ctx context.Context, gh GitHub, rel string) (*File, error) {
	fullPath := path.Join(gh.DocsPath, rel)
	content, _, err := f.getContents(ctx, gh, fullPath)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("%w: %s is not a file", ErrFetchFailed, fullPath)
	}
	text, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrFetchFailed, fullPath, err)
	}
	return &File{Path: rel, Content: []byte(text), Size: int64(len(text))}, nil
}

// getContents retries transient failures. A 404 is ErrSourceNotFound and is
// not retried.
func (f *GitHubFetcher) getContents(ctx context.Context, gh GitHub, p string) (*github.RepositoryContent, []*github.RepositoryContent, error) {
	var (
		file *github.RepositoryContent
		dir  []*github.RepositoryContent
	)
	opts := &github.RepositoryContentGetOptions{Ref: gh.Ref}
	operation := func() error {
		var err error
		file, dir, _, err = f.client.Repositories.GetContents(ctx, gh.Owner, gh.Repo, p, opts)
		if err == nil {
			return nil
		}
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%s: %w", p, ErrSourceNotFound))
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = f.maxElapsed
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		f.logger.Warn("GitHub request failed, retrying", "path", p, "error", err, "retry_in", d)
	})
	switch {
	case err == nil:
		return file, dir, nil
	case errors.Is(err, ErrSourceNotFound), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, nil, err
	default:
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, p, err)
	}
}
