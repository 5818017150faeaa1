package storage

import "time"

// SourceType identifies where a library's documentation comes from.
type SourceType string

const (
	SourceGitHub SourceType = "GITHUB"
	SourceLocal  SourceType = "LOCAL"
	SourceManual SourceType = "MANUAL"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceGitHub, SourceLocal, SourceManual:
		return true
	}
	return false
}

// VersionStatus is the support state of a library version.
type VersionStatus string

const (
	VersionActive     VersionStatus = "ACTIVE"
	VersionDeprecated VersionStatus = "DEPRECATED"
	VersionEOL        VersionStatus = "EOL"
)

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncRunning SyncStatus = "RUNNING"
	SyncSuccess SyncStatus = "SUCCESS"
	SyncFailed  SyncStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s SyncStatus) Terminal() bool {
	return s == SyncSuccess || s == SyncFailed
}

// KeyStatus is the lifecycle state of an API key.
type KeyStatus string

const (
	KeyActive  KeyStatus = "ACTIVE"
	KeyRevoked KeyStatus = "REVOKED"
	KeyExpired KeyStatus = "EXPIRED"
)

// Library is a named source of documentation.
type Library struct {
	ID         string
	Name       string     // Unique: "widgets"
	SourceType SourceType // GITHUB, LOCAL or MANUAL
	SourceURL  string     // "https://github.com/acme/widgets" or a local directory
	Category   string
	Tags       []string
	CreatedAt  time.Time
}

// LibraryVersion is one documented version of a Library.
type LibraryVersion struct {
	ID          string
	LibraryID   string
	Version     string // "v1.2.0"
	GitRef      string // Branch, tag or SHA to fetch; empty means Version
	IsLatest    bool
	IsLTS       bool
	Status      VersionStatus
	DocsPath    string // Directory inside the source holding the docs: "docs"
	ReleaseDate *time.Time
	CreatedAt   time.Time
}

// Ref returns the git ref used to fetch this version.
func (v *LibraryVersion) Ref() string {
	if v.GitRef != "" {
		return v.GitRef
	}
	return v.Version
}

// Document is one synced source file.
type Document struct {
	ID          string
	VersionID   string
	Title       string
	Path        string // Relative to the version's docs path: "guides/install.md"
	Content     string
	ContentHash string // sha256 hex of Content, the idempotence key
	DocType     string // "markdown", "text", ...
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentChunk is a contiguous slice of a Document and the unit of retrieval.
type DocumentChunk struct {
	ID         string
	DocumentID string
	ChunkIndex int // Dense, 0-based within the document
	Content    string
	Embedding  []float32 // Either full dimension or nil
	TokenCount int
	Metadata   ChunkMetadata
}

// ChunkMetadata is denormalized onto every chunk so the vector index can filter without joins.
type ChunkMetadata struct {
	VersionID  string `json:"version_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Path       string `json:"path"`
	HeaderPath string `json:"header_path,omitempty"`
}

// SyncHistory records one synchronization attempt for a version.
type SyncHistory struct {
	ID               string
	VersionID        string
	Status           SyncStatus
	StartedAt        *time.Time
	FinishedAt       *time.Time
	ErrorDetail      string
	DocumentsSeen    int
	DocumentsUpdated int
	DocumentsSkipped int
	DocumentsFailed  int
	CreatedAt        time.Time
}

// SyncCounts is the per-run tally written with a terminal transition.
type SyncCounts struct {
	Seen    int
	Updated int
	Skipped int
	Failed  int
}

// APIKey is an authentication credential. Only the bcrypt hash of the secret is stored.
type APIKey struct {
	ID         string
	Name       string
	SecretHash string
	KeyPrefix  string // First 12 characters of the raw key, indexed
	Status     KeyStatus
	RateLimit  int // Requests per hour
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedBy  string
	CreatedAt  time.Time
}

// ValidAt reports whether the key may authenticate at the given instant.
func (k *APIKey) ValidAt(now time.Time) bool {
	if k.Status != KeyActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// IndexStats summarizes what is stored for a version.
type IndexStats struct {
	Documents int
	Chunks    int
	Embedded  int
}
