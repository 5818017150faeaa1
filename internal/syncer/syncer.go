// Package syncer pulls a library version's documentation from its source,
// re-indexes changed files and records each attempt in the sync history.
package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docsearch-mcp/internal/embedding"
	"github.com/bull/docsearch-mcp/internal/markdown"
	"github.com/bull/docsearch-mcp/internal/metadata"
	"github.com/bull/docsearch-mcp/internal/source"
	"github.com/bull/docsearch-mcp/internal/storage"
	"github.com/bull/docsearch-mcp/internal/vectorindex"
)

const (
	DefaultTimeout = 30 * time.Minute
	maxDetailRunes = 4000
	timedOutDetail = "sync timed out"
	abandonedSync  = "sync abandoned: process stopped while running"
	concurrentSync = "another sync is running for this version"
)

// Store is the part of the store of record the synchronizer writes.
type Store interface {
	GetLibrary(ctx context.Context, id string) (*storage.Library, error)
	GetVersion(ctx context.Context, id string) (*storage.LibraryVersion, error)
	CreateSyncHistory(ctx context.Context, versionID string) (*storage.SyncHistory, error)
	StartSync(ctx context.Context, id string) (*storage.SyncHistory, error)
	FinishSync(ctx context.Context, id string, status storage.SyncStatus, counts storage.SyncCounts, detail string) error
	GetSyncHistory(ctx context.Context, id string) (*storage.SyncHistory, error)
	FailStaleSyncs(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	ListDocumentRefs(ctx context.Context, versionID string) ([]storage.DocumentRef, error)
	SaveDocument(ctx context.Context, doc *storage.Document, chunks []*storage.DocumentChunk) error
	DeleteDocument(ctx context.Context, id string) error
}

// Chunker splits a document into retrieval units.
type Chunker interface {
	ChunkDocument(source []byte) ([]markdown.Chunk, error)
}

// Enricher adds a summary and entities to a document.
type Enricher interface {
	Generate(ctx context.Context, library, path, content string) (*metadata.DocumentMetadata, error)
}

// Options configures a Syncer. Mirror and Enricher are optional.
type Options struct {
	Pattern  string
	Timeout  time.Duration
	Mirror   vectorindex.ChunkMirror
	Enricher Enricher
	Logger   *slog.Logger
	Now      func() time.Time
}

// Syncer runs one sync at a time per version; the store enforces it.
type Syncer struct {
	store    Store
	fetcher  source.Fetcher
	chunker  Chunker
	embedder embedding.Service
	mirror   vectorindex.ChunkMirror
	enricher Enricher
	pattern  string
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(store Store, fetcher source.Fetcher, chunker Chunker, embedder embedding.Service, opts Options) *Syncer {
	if opts.Pattern == "" {
		opts.Pattern = source.DefaultPattern
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		store:    store,
		fetcher:  fetcher,
		chunker:  chunker,
		embedder: embedder,
		mirror:   opts.Mirror,
		enricher: opts.Enricher,
		pattern:  opts.Pattern,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Sync brings one version up to date with its source. It returns the final
// history row; a FAILED run also returns an error wrapping ErrSyncFailed.
func (s *Syncer) Sync(ctx context.Context, versionID string) (*storage.SyncHistory, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("load version: %w", err)
	}
	lib, err := s.store.GetLibrary(ctx, v.LibraryID)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	logger := s.logger.With("library", lib.Name, "version", v.Version)

	src, err := source.Resolve(lib, v)
	if err != nil {
		logger.Warn("Skipping sync, source cannot be resolved", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSkipped, err)
	}
	if _, ok := src.(source.Manual); ok {
		logger.Debug("Skipping sync of manual library")
		return nil, fmt.Errorf("%w: %s is maintained manually", ErrSkipped, lib.Name)
	}

	pending, err := s.store.CreateSyncHistory(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("create sync history: %w", err)
	}
	if _, err := s.store.StartSync(ctx, pending.ID); err != nil {
		closeErr := s.store.FinishSync(context.WithoutCancel(ctx), pending.ID, storage.SyncFailed, storage.SyncCounts{}, concurrentSync)
		if closeErr != nil {
			logger.Error("Failed to close rejected sync", "sync_id", pending.ID, "error", closeErr)
		}
		return s.reload(ctx, pending), fmt.Errorf("start sync: %w", err)
	}

	start := s.now()
	logger.Info("Starting sync", "sync_id", pending.ID, "source", src.String())

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	counts, runErr := s.run(runCtx, logger, lib, v, src)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	status, detail := storage.SyncSuccess, ""
	if timedOut {
		runErr = errors.Join(errors.New(timedOutDetail), runErr)
	}
	if runErr != nil {
		status, detail = storage.SyncFailed, truncate(runErr.Error(), maxDetailRunes)
	}

	// The run context may be cancelled or expired; the terminal write must land.
	if err := s.store.FinishSync(context.WithoutCancel(ctx), pending.ID, status, counts, detail); err != nil {
		return s.reload(ctx, pending), fmt.Errorf("finish sync: %w", err)
	}

	logger.Info("Sync complete",
		"sync_id", pending.ID,
		"status", status,
		"seen", counts.Seen,
		"updated", counts.Updated,
		"skipped", counts.Skipped,
		"failed", counts.Failed,
		"duration", s.now().Sub(start),
	)
	h := s.reload(ctx, pending)
	if runErr != nil {
		return h, fmt.Errorf("%w: %w", ErrSyncFailed, runErr)
	}
	return h, nil
}

// run fetches, diffs and writes. Failures of single documents are collected
// and do not stop the run.
func (s *Syncer) run(ctx context.Context, logger *slog.Logger, lib *storage.Library, v *storage.LibraryVersion, src source.Source) (storage.SyncCounts, error) {
	var counts storage.SyncCounts

	files, err := s.fetcher.ListFiles(ctx, src, s.pattern)
	if err != nil {
		return counts, fmt.Errorf("list files: %w", err)
	}
	refs, err := s.store.ListDocumentRefs(ctx, v.ID)
	if err != nil {
		return counts, fmt.Errorf("list documents: %w", err)
	}
	existing := make(map[string]storage.DocumentRef, len(refs))
	for _, ref := range refs {
		existing[ref.Path] = ref
	}
	logger.Info("Found documents", "count", len(files), "stored", len(refs))

	var errs []error
	listed := make(map[string]bool, len(files))
	for _, f := range files {
		listed[f.Path] = true
		if ctx.Err() != nil {
			break
		}
		counts.Seen++

		hash := contentHash(f.Content)
		ref, known := existing[f.Path]
		if known && ref.ContentHash == hash {
			counts.Skipped++
			continue
		}
		docID := ref.ID
		if !known {
			docID = uuid.NewString()
		}
		chunks, err := s.processFile(ctx, lib, v, src, f, docID, hash)
		if err != nil {
			counts.Failed++
			logger.Warn("Failed to process document", "path", f.Path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", f.Path, err))
			continue
		}
		counts.Updated++
		logger.Debug("Indexed document", "path", f.Path, "chunks", chunks)
	}

	// Only a complete listing proves a path is gone.
	if ctx.Err() == nil {
		pruned := 0
		for path, ref := range existing {
			if listed[path] {
				continue
			}
			if err := s.prune(ctx, ref); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				continue
			}
			pruned++
		}
		if pruned > 0 {
			logger.Info("Pruned removed documents", "count", pruned)
		}
	}
	return counts, errors.Join(errs...)
}

// processFile chunks, embeds, mirrors and stores one document. It returns the
// number of chunks written.
func (s *Syncer) processFile(ctx context.Context, lib *storage.Library, v *storage.LibraryVersion, src source.Source, f source.File, docID, hash string) (int, error) {
	pieces, err := s.chunker.ChunkDocument(f.Content)
	if err != nil {
		return 0, fmt.Errorf("chunk: %w", err)
	}

	var vectors [][]float32
	if len(pieces) > 0 {
		texts := make([]string, len(pieces))
		for i, p := range pieces {
			texts[i] = p.Content // Header path included for embedding context.
		}
		vectors, err = s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed: %w", err)
		}
	}

	content := string(f.Content)
	doc := &storage.Document{
		ID:          docID,
		VersionID:   v.ID,
		Title:       markdown.Title(f.Content, f.Path),
		Path:        f.Path,
		Content:     content,
		ContentHash: hash,
		DocType:     markdown.DocType(f.Path),
		Metadata:    map[string]any{"source": src.String(), "size": f.Size},
	}
	if !f.ModTime.IsZero() {
		doc.Metadata["modified_at"] = f.ModTime.UTC().Format(time.RFC3339)
	}
	s.enrich(ctx, lib, doc)

	chunks := make([]*storage.DocumentChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &storage.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ChunkIndex: p.Index,
			Content:    p.RawContent,
			Embedding:  vectors[i],
			TokenCount: p.TokenCount,
			Metadata: storage.ChunkMetadata{
				VersionID:  v.ID,
				DocumentID: doc.ID,
				Title:      doc.Title,
				Path:       doc.Path,
				HeaderPath: p.HeaderPath,
			},
		}
	}

	if s.mirror != nil {
		if err := s.mirror.ReplaceDocumentChunks(ctx, doc, chunks); err != nil {
			return 0, fmt.Errorf("mirror chunks: %w", err)
		}
	}
	if err := s.store.SaveDocument(ctx, doc, chunks); err != nil {
		return 0, fmt.Errorf("store document: %w", err)
	}
	return len(chunks), nil
}

// enrich attaches generated metadata. Failure leaves the document as is.
func (s *Syncer) enrich(ctx context.Context, lib *storage.Library, doc *storage.Document) {
	if s.enricher == nil {
		return
	}
	meta, err := s.enricher.Generate(ctx, lib.Name, doc.Path, doc.Content)
	if err != nil {
		s.logger.Warn("Metadata generation failed, continuing without", "path", doc.Path, "error", err)
		return
	}
	doc.Metadata["summary"] = meta.Summary
	doc.Metadata["entities"] = meta.Entities
}

func (s *Syncer) prune(ctx context.Context, ref storage.DocumentRef) error {
	if s.mirror != nil {
		if err := s.mirror.DeleteDocumentChunks(ctx, ref.ID); err != nil {
			return fmt.Errorf("unmirror: %w", err)
		}
	}
	if err := s.store.DeleteDocument(ctx, ref.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// RecoverStale closes RUNNING rows older than olderThan as FAILED. It is meant
// for startup, when no sync of this process can be running.
func (s *Syncer) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.store.FailStaleSyncs(ctx, s.now().Add(-olderThan), abandonedSync)
	if err != nil {
		return 0, fmt.Errorf("recover stale syncs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("Closed abandoned syncs", "count", n)
	}
	return n, nil
}

func (s *Syncer) reload(ctx context.Context, h *storage.SyncHistory) *storage.SyncHistory {
	fresh, err := s.store.GetSyncHistory(context.WithoutCancel(ctx), h.ID)
	if err != nil {
		return h
	}
	return fresh
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
