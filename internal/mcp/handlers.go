package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docsearch-mcp/internal/search"
	"github.com/bull/docsearch-mcp/internal/storage"
)

const defaultMaxResults = 10

type handlers struct {
	cfg *Config
}

// searchDocs runs a hybrid search scoped to a library version when one is named.
func (h *handlers) searchDocs(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocsInput) (
	*mcp.CallToolResult, SearchDocsOutput, error,
) {
	versionID, err := search.ResolveVersion(ctx, h.cfg.Store, input.Library, input.Version)
	if err != nil {
		return nil, SearchDocsOutput{}, err
	}
	limit := input.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}

	resp, err := h.cfg.Searcher.Search(ctx, search.Request{
		Query:         input.Query,
		VersionID:     versionID,
		Alpha:         input.Alpha,
		MinSimilarity: input.MinScore,
		Limit:         limit,
	})
	if err != nil {
		return nil, SearchDocsOutput{}, fmt.Errorf("search failed: %w", err)
	}

	if len(resp.Items) == 0 {
		return nil, SearchDocsOutput{
			Results: []search.Item{},
			Message: "No matching documents found. Try broader search terms or a lower min_score.",
		}, nil
	}
	return nil, SearchDocsOutput{Results: resp.Items}, nil
}

// fetchDoc returns a document with a source comment prepended. A missing
// document is reported with Found=false rather than an error.
func (h *handlers) fetchDoc(ctx context.Context, _ *mcp.CallToolRequest, input FetchDocInput) (
	*mcp.CallToolResult, FetchDocOutput, error,
) {
	if input.Library == "" {
		return nil, FetchDocOutput{}, errors.New("library is required")
	}
	versionID, err := search.ResolveVersion(ctx, h.cfg.Store, input.Library, input.Version)
	if err != nil {
		return nil, FetchDocOutput{}, err
	}

	doc, err := h.cfg.Store.GetDocumentByPath(ctx, versionID, input.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, FetchDocOutput{Found: false, Path: input.Path}, nil
	}
	if err != nil {
		return nil, FetchDocOutput{}, fmt.Errorf("failed to fetch document: %w", err)
	}

	summary, _ := doc.Metadata["summary"].(string)
	return nil, FetchDocOutput{
		Content:   fmt.Sprintf("<!-- Source: %s@%s/%s -->\n\n%s", input.Library, orLatest(input.Version), doc.Path, doc.Content),
		Path:      doc.Path,
		Title:     doc.Title,
		Summary:   summary,
		UpdatedAt: doc.UpdatedAt,
		Found:     true,
	}, nil
}

// listDocs lists libraries, or the paths of one version when a library is named.
func (h *handlers) listDocs(ctx context.Context, _ *mcp.CallToolRequest, input ListDocsInput) (
	*mcp.CallToolResult, ListDocsOutput, error,
) {
	if input.Library == "" {
		libs, err := listLibraries(ctx, h.cfg.Store)
		if err != nil {
			return nil, ListDocsOutput{}, err
		}
		return nil, ListDocsOutput{Libraries: libs, Paths: []string{}, Count: len(libs)}, nil
	}

	versionID, err := search.ResolveVersion(ctx, h.cfg.Store, input.Library, input.Version)
	if err != nil {
		return nil, ListDocsOutput{}, err
	}
	refs, err := h.cfg.Store.ListDocumentRefs(ctx, versionID)
	if err != nil {
		return nil, ListDocsOutput{}, fmt.Errorf("failed to list documents: %w", err)
	}
	paths := make([]string, len(refs))
	for i, ref := range refs {
		paths[i] = ref.Path
	}
	return nil, ListDocsOutput{Paths: paths, Count: len(paths)}, nil
}

// indexStatus reports counts and the latest sync. Staleness is judged by the
// age of the most recent successful sync.
func (h *handlers) indexStatus(ctx context.Context, _ *mcp.CallToolRequest, input StatusInput) (
	*mcp.CallToolResult, StatusOutput, error,
) {
	versionID, err := search.ResolveVersion(ctx, h.cfg.Store, input.Library, input.Version)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	stats, err := h.cfg.Store.Stats(ctx, versionID)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to read index stats: %w", err)
	}
	out := StatusOutput{
		Library:        input.Library,
		Version:        input.Version,
		TotalDocs:      stats.Documents,
		TotalChunks:    stats.Chunks,
		EmbeddedChunks: stats.Embedded,
	}
	if versionID == "" {
		return nil, out, nil
	}

	history, err := h.cfg.Store.ListSyncHistory(ctx, versionID, 20)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to read sync history: %w", err)
	}
	if len(history) > 0 {
		out.LastSync = syncInfo(history[0])
	}
	out.StaleWarning = h.staleWarning(history, time.Now())
	return nil, out, nil
}

func (h *handlers) staleWarning(history []*storage.SyncHistory, now time.Time) string {
	if h.cfg.StaleAfter <= 0 {
		return ""
	}
	for _, s := range history {
		if s.Status != storage.SyncSuccess || s.FinishedAt == nil {
			continue
		}
		if age := now.Sub(*s.FinishedAt); age > h.cfg.StaleAfter {
			return fmt.Sprintf("Last successful sync was %s ago. Consider resyncing.", age.Round(time.Hour))
		}
		return ""
	}
	return "No successful sync recorded for this version."
}

func listLibraries(ctx context.Context, store Store) ([]LibraryInfo, error) {
	libs, err := store.ListLibraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	out := make([]LibraryInfo, 0, len(libs))
	for _, lib := range libs {
		versions, err := store.ListVersions(ctx, lib.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", lib.Name, err)
		}
		info := LibraryInfo{
			Name:       lib.Name,
			SourceType: string(lib.SourceType),
			SourceURL:  lib.SourceURL,
			Category:   lib.Category,
			Tags:       lib.Tags,
			Versions:   make([]VersionInfo, len(versions)),
		}
		for i, v := range versions {
			info.Versions[i] = VersionInfo{ID: v.ID, Version: v.Version, IsLatest: v.IsLatest, IsLTS: v.IsLTS, Status: string(v.Status)}
		}
		out = append(out, info)
	}
	return out, nil
}

func syncInfo(s *storage.SyncHistory) *SyncInfo {
	return &SyncInfo{
		ID:         s.ID,
		Status:     string(s.Status),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Seen:       s.DocumentsSeen,
		Updated:    s.DocumentsUpdated,
		Skipped:    s.DocumentsSkipped,
		Failed:     s.DocumentsFailed,
		Error:      s.ErrorDetail,
	}
}

func orLatest(version string) string {
	if version == "" {
		return "latest"
	}
	return version
}
