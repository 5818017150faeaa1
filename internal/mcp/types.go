// Package mcp serves documentation search over the Model Context Protocol and
// a small REST API.
package mcp

import (
	"time"

	"github.com/bull/docsearch-mcp/internal/search"
)

// SearchDocsInput defines the input parameters for the search_docs tool.
type SearchDocsInput struct {
	Query      string   `json:"query" jsonschema:"what to look for in the documentation"`
	Library    string   `json:"library,omitempty" jsonschema:"library name to search; every library when empty"`
	Version    string   `json:"version,omitempty" jsonschema:"library version; the latest version when empty"`
	MaxResults int      `json:"max_results,omitempty" jsonschema:"maximum number of results (default 10)"`
	Alpha      *float64 `json:"alpha,omitempty" jsonschema:"weight of keyword match against meaning match, from 0 to 1"`
	MinScore   *float64 `json:"min_score,omitempty" jsonschema:"drop results scoring below this, from 0 to 1"`
}

// SearchDocsOutput contains the ranked results.
type SearchDocsOutput struct {
	Results []search.Item `json:"results"`
	// Message explains an empty result.
	Message string `json:"message,omitempty"`
}

// FetchDocInput defines the input parameters for the fetch_doc tool.
type FetchDocInput struct {
	Library string `json:"library" jsonschema:"library name"`
	Version string `json:"version,omitempty" jsonschema:"library version; the latest version when empty"`
	Path    string `json:"path" jsonschema:"document path as returned by search_docs or list_docs"`
}

// FetchDocOutput contains the retrieved document.
type FetchDocOutput struct {
	// Content is the full document with a source comment prepended.
	Content   string    `json:"content"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Found     bool      `json:"found"`
}

// ListDocsInput defines the input parameters for the list_docs tool.
// Without a library it lists libraries and their versions.
type ListDocsInput struct {
	Library string `json:"library,omitempty" jsonschema:"library whose documents to list; libraries are listed when empty"`
	Version string `json:"version,omitempty" jsonschema:"library version; the latest version when empty"`
}

// ListDocsOutput contains either libraries or document paths.
type ListDocsOutput struct {
	Libraries []LibraryInfo `json:"libraries,omitempty"`
	Paths     []string      `json:"paths"`
	Count     int           `json:"count"`
}

// LibraryInfo describes a library and its versions.
type LibraryInfo struct {
	Name       string        `json:"name"`
	SourceType string        `json:"source_type"`
	SourceURL  string        `json:"source_url,omitempty"`
	Category   string        `json:"category,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
	Versions   []VersionInfo `json:"versions"`
}

type VersionInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	IsLatest bool   `json:"is_latest"`
	IsLTS    bool   `json:"is_lts"`
	Status   string `json:"status"`
}

// StatusInput defines the input parameters for the get_index_status tool.
type StatusInput struct {
	Library string `json:"library,omitempty" jsonschema:"library to report on; the whole index when empty"`
	Version string `json:"version,omitempty" jsonschema:"library version; the latest version when empty"`
}

// StatusOutput reports index contents and sync freshness.
type StatusOutput struct {
	Library        string    `json:"library,omitempty"`
	Version        string    `json:"version,omitempty"`
	TotalDocs      int       `json:"total_docs"`
	TotalChunks    int       `json:"total_chunks"`
	EmbeddedChunks int       `json:"embedded_chunks"`
	LastSync       *SyncInfo `json:"last_sync,omitempty"`
	StaleWarning   string    `json:"stale_warning,omitempty"`
}

// SyncInfo is one sync history row.
type SyncInfo struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Seen       int        `json:"documents_seen"`
	Updated    int        `json:"documents_updated"`
	Skipped    int        `json:"documents_skipped"`
	Failed     int        `json:"documents_failed"`
	Error      string     `json:"error,omitempty"`
}
