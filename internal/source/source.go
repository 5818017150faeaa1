// Package source resolves where a library version's documentation lives and
// lists the files found there.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bull/docsearch-mcp/internal/storage"
)

var (
	ErrInvalidSource  = errors.New("invalid source")
	ErrSourceNotFound = errors.New("source not found")
	ErrFetchFailed    = errors.New("fetch failed")
)

// DefaultPattern selects markdown files at any depth.
const DefaultPattern = "**/*.md"

// Source is one of GitHub, Local or Manual.
type Source interface {
	fmt.Stringer
	source()
}

// GitHub is a directory inside a repository at a given ref.
type GitHub struct {
	Owner    string
	Repo     string
	Ref      string
	DocsPath string
}

// Local is a directory on this machine.
type Local struct {
	Root string
}

// Manual documentation is maintained by hand and never fetched.
type Manual struct{}

func (GitHub) source() {}
func (Local) source()  {}
func (Manual) source() {}

func (g GitHub) String() string {
	return fmt.Sprintf("github.com/%s/%s@%s:%s", g.Owner, g.Repo, g.Ref, g.DocsPath)
}
func (l Local) String() string { return "file://" + l.Root }
func (Manual) String() string  { return "manual" }

// File is a fetched document. Path is slash separated and relative to the
// docs directory. ModTime is zero when the source does not report one.
type File struct {
	Path    string
	Content []byte
	Size    int64
	ModTime time.Time
}

// Fetcher lists every file under src whose relative path matches pattern.
// A missing base directory is ErrSourceNotFound.
type Fetcher interface {
	ListFiles(ctx context.Context, src Source, pattern string) ([]File, error)
}

var githubURL = regexp.MustCompile(`^https://github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+?)(?:\.git)?/?$`)

// ParseGitHubURL extracts owner and repo from https://github.com/<owner>/<repo>.
func ParseGitHubURL(raw string) (owner, repo string, err error) {
	m := githubURL.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", fmt.Errorf("%w: %q is not a https://github.com/<owner>/<repo> URL", ErrInvalidSource, raw)
	}
	return m[1], m[2], nil
}

// Resolve maps a library version onto its source.
func Resolve(lib *storage.Library, v *storage.LibraryVersion) (Source, error) {
	switch lib.SourceType {
	case storage.SourceGitHub:
		owner, repo, err := ParseGitHubURL(lib.SourceURL)
		if err != nil {
			return nil, err
		}
		return GitHub{Owner: owner, Repo: repo, Ref: v.Ref(), DocsPath: cleanDocsPath(v.DocsPath)}, nil
	case storage.SourceLocal:
		root, err := localRoot(lib.SourceURL)
		if err != nil {
			return nil, err
		}
		return Local{Root: filepath.Join(root, filepath.FromSlash(cleanDocsPath(v.DocsPath)))}, nil
	case storage.SourceManual:
		return Manual{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidSource, lib.SourceType)
	}
}

func localRoot(raw string) (string, error) {
	if strings.HasPrefix(raw, "file://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		raw = u.Path
	}
	if raw == "" {
		return "", fmt.Errorf("%w: empty local path", ErrInvalidSource)
	}
	return filepath.Clean(raw), nil
}

func cleanDocsPath(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	return p
}
