package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docsearch-mcp/internal/embedding"
	"github.com/bull/docsearch-mcp/internal/markdown"
	"github.com/bull/docsearch-mcp/internal/metadata"
	"github.com/bull/docsearch-mcp/internal/source"
	"github.com/bull/docsearch-mcp/internal/storage"
)

type fakeFetcher struct {
	mu      sync.Mutex
	files   map[string]string
	err     error
	started chan struct{} // Closed on the first call when set.
	release chan struct{} // ListFiles waits on it when set.
	calls   int
}

func (f *fakeFetcher) set(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
}

func (f *fakeFetcher) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

func (f *fakeFetcher) ListFiles(ctx context.Context, _ source.Source, _ string) ([]source.File, error) {
	f.mu.Lock()
	f.calls++
	if f.started != nil && f.calls == 1 {
		close(f.started)
	}
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]source.File, 0, len(f.files))
	for p, c := range f.files {
		out = append(out, source.File{Path: p, Content: []byte(c), Size: int64(len(c))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// fakeEmbedder fails on any text containing FAIL.
type fakeEmbedder struct {
	mu    sync.Mutex
	texts int
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.texts += len(texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "FAIL") {
			return nil, fmt.Errorf("%w: refused", embedding.ErrEmbeddingFailed)
		}
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

type fakeMirror struct {
	mu       sync.Mutex
	replaced map[string]int
	deleted  []string
}

func (m *fakeMirror) ReplaceDocumentChunks(_ context.Context, doc *storage.Document, chunks []*storage.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaced[doc.ID] = len(chunks)
	return nil
}

func (m *fakeMirror) DeleteDocumentChunks(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	delete(m.replaced, id)
	return nil
}

type fakeEnricher struct{ err error }

func (e fakeEnricher) Generate(context.Context, string, string, string) (*metadata.DocumentMetadata, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &metadata.DocumentMetadata{Summary: "A guide.", Entities: []string{"Widget"}}, nil
}

type env struct {
	store    *storage.Store
	fetcher  *fakeFetcher
	embedder *fakeEmbedder
	mirror   *fakeMirror
	lib      *storage.Library
	version  *storage.LibraryVersion
}

func newEnv(t *testing.T, sourceType storage.SourceType, sourceURL string) *env {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	lib := &storage.Library{Name: "widgets", SourceType: sourceType, SourceURL: sourceURL}
	require.NoError(t, st.CreateLibrary(ctx, lib))
	v := &storage.LibraryVersion{LibraryID: lib.ID, Version: "v1.0.0", IsLatest: true, DocsPath: "docs"}
	require.NoError(t, st.CreateVersion(ctx, v))

	return &env{
		store: st,
		fetcher: &fakeFetcher{files: map[string]string{
			"index.md":          "# Widgets\n\nWidgets are small.\n",
			"guides/install.md": "# Install\n\nRun make.\n\n## Verify\n\nRun widgets --version.\n",
		}},
		embedder: &fakeEmbedder{},
		mirror:   &fakeMirror{replaced: map[string]int{}},
		lib:      lib,
		version:  v,
	}
}

func (e *env) syncer(opts Options) *Syncer {
	if opts.Mirror == nil {
		opts.Mirror = e.mirror
	}
	return New(e.store, e.fetcher, markdown.NewChunker(), e.embedder, opts)
}

func (e *env) docs(t *testing.T) map[string]storage.DocumentRef {
	t.Helper()
	refs, err := e.store.ListDocumentRefs(context.Background(), e.version.ID)
	require.NoError(t, err)
	out := map[string]storage.DocumentRef{}
	for _, r := range refs {
		out[r.Path] = r
	}
	return out
}

func TestSync_IndexesAndIsIdempotent(t *testing.T) {
	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	s := e.syncer(Options{})
	ctx := context.Background()

	h, err := s.Sync(ctx, e.version.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SyncSuccess, h.Status)
	assert.Equal(t, 2, h.DocumentsSeen)
	assert.Equal(t, 2, h.DocumentsUpdated)
	assert.NotNil(t, h.StartedAt)
	assert.NotNil(t, h.FinishedAt)

	docs := e.docs(t)
	require.Len(t, docs, 2)
	doc, err := e.store.GetDocument(ctx, docs["guides/install.md"].ID)
	require.NoError(t, err)
	assert.Equal(t, "Install", doc.Title)
	assert.Equal(t, "markdown", doc.DocType)
	assert.Equal(t, contentHash([]byte(e.fetcher.files["guides/install.md"])), doc.ContentHash)
	assert.Equal(t, "github.com/acme/widgets@v1.0.0:docs", doc.Metadata["source"])

	chunks, err := e.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "# Install > ## Verify", chunks[1].Metadata.HeaderPath)
	assert.Len(t, chunks[0].Embedding, 3)
	assert.Equal(t, 2, e.mirror.replaced[doc.ID])

	embedded := e.embedder.count()
	chunkIDs := chunks[0].ID

	h, err = s.Sync(ctx, e.version.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SyncSuccess, h.Status)
	assert.Equal(t, 0, h.DocumentsUpdated)
	assert.Equal(t, 2, h.DocumentsSkipped)
	assert.Equal(t, embedded, e.embedder.count(), "unchanged documents are not re-embedded")

	again, err := e.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, chunkIDs, again[0].ID)

	history, err := e.store.ListSyncHistory(ctx, e.version.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSync_ChangedDocumentReplacesChunks(t *testing.T) {
	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	s := e.syncer(Options{})
	ctx := context.Background()

	_, err := s.Sync(ctx, e.version.ID)
	require.NoError(t, err)
	before := e.docs(t)["index.md"]

	e.fetcher.set("index.md", "# Widgets\n\nWidgets are tiny now.\n")
	h, err := s.Sync(ctx, e.version.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.DocumentsUpdated)
	assert.Equal(t, 1, h.DocumentsSkipped)

	after := e.docs(t)["index.md"]
	assert.Equal(t, before.ID, after.ID, "document identity is kept across updates")
	assert.NotEqual(t, before.ContentHash, after.ContentHash)

	chunks, err := e.store.ListChunks(ctx, after.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "tiny")
}

func TestSync_PrunesRemovedDocuments(t *testing.T) {
	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	s := e.syncer(Options{})
	ctx := context.Background()

	_, err := s.Sync(ctx, e.version.ID)
	require.NoError(t, err)
	gone := e.docs(t)["index.md"].ID

	e.fetcher.remove("index.md")
	_, err = s.Sync(ctx, e.version.ID)
	require.NoError(t, err)

	assert.NotContains(t, e.docs(t), "index.md")
	assert.Contains(t, e.mirror.deleted, gone)
	_, err = e.store.GetDocument(ctx, gone)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSync_PartialFailure(t *testing.T) {
	e := newEnv(t, storage.SourceLocal, "/srv/widgets")
	e.fetcher.set("broken.md", "# Broken\n\nFAIL here.\n")
	s := e.syncer(Options{})

	h, err := s.Sync(context.Background(), e.version.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingFailed)
	require.NotNil(t, h)
	assert.Equal(t, storage.SyncFailed, h.Status)
	assert.Equal(t, 3, h.DocumentsSeen)
	assert.Equal(t, 2, h.DocumentsUpdated)
	assert.Equal(t, 1, h.DocumentsFailed)
	assert.Contains(t, h.ErrorDetail, "broken.md")

	docs := e.docs(t)
	assert.Len(t, docs, 2, "committed documents stay")
	assert.NotContains(t, docs, "broken.md")
}

func TestSync_SourceErrorKeepsDocuments(t *testing.T) {
	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	s := e.syncer(Options{})
	ctx := context.Background()

	_, err := s.Sync(ctx, e.version.ID)
	require.NoError(t, err)

	e.fetcher.err = fmt.Errorf("docs: %w", source.ErrSourceNotFound)
	h, err := s.Sync(ctx, e.version.ID)
	assert.ErrorIs(t, err, source.ErrSourceNotFound)
	assert.Equal(t, storage.SyncFailed, h.Status)
	assert.Len(t, e.docs(t), 2, "a failed listing never prunes")
}

func TestSync_Skips(t *testing.T) {
	ctx := context.Background()

	manual := newEnv(t, storage.SourceManual, "")
	_, err := manual.syncer(Options{}).Sync(ctx, manual.version.ID)
	assert.ErrorIs(t, err, ErrSkipped)
	history, err := manual.store.ListSyncHistory(ctx, manual.version.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Zero(t, manual.fetcher.calls)

	bad := newEnv(t, storage.SourceGitHub, "not-a-url")
	_, err = bad.syncer(Options{}).Sync(ctx, bad.version.ID)
	assert.ErrorIs(t, err, ErrSkipped)
	assert.ErrorIs(t, err, source.ErrInvalidSource)
	history, err = bad.store.ListSyncHistory(ctx, bad.version.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = bad.syncer(Options{}).Sync(ctx, "no-such-version")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSync_MutualExclusion(t *testing.T) {
	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	e.fetcher.started = make(chan struct{})
	e.fetcher.release = make(chan struct{})
	s := e.syncer(Options{})
	ctx := context.Background()

	type result struct {
		h   *storage.SyncHistory
		err error
	}
	first := make(chan result, 1)
	go func() {
		h, err := s.Sync(ctx, e.version.ID)
		first <- result{h, err}
	}()
	<-e.fetcher.started

	h, err := s.Sync(ctx, e.version.ID)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	require.NotNil(t, h)
	assert.Equal(t, storage.SyncFailed, h.Status)
	assert.Equal(t, concurrentSync, h.ErrorDetail)

	n, err := e.store.CountRunning(ctx, e.version.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	close(e.fetcher.release)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, storage.SyncSuccess, res.h.Status)

	n, err = e.store.CountRunning(ctx, e.version.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSync_Timeout(t *testing.T) {
	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	e.fetcher.release = make(chan struct{}) // Never released.
	s := e.syncer(Options{Timeout: 50 * time.Millisecond})

	h, err := s.Sync(context.Background(), e.version.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	require.NotNil(t, h)
	assert.Equal(t, storage.SyncFailed, h.Status)
	assert.True(t, strings.HasPrefix(h.ErrorDetail, timedOutDetail), h.ErrorDetail)
	assert.NotNil(t, h.FinishedAt)
}

func TestSync_CallerCancellationStillRecorded(t *testing.T) {
	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	e.fetcher.started = make(chan struct{})
	e.fetcher.release = make(chan struct{})
	s := e.syncer(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-e.fetcher.started
		cancel()
	}()
	h, err := s.Sync(ctx, e.version.ID)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, h)
	assert.Equal(t, storage.SyncFailed, h.Status)
}

func TestSync_Enrichment(t *testing.T) {
	ctx := context.Background()

	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	_, err := e.syncer(Options{Enricher: fakeEnricher{}}).Sync(ctx, e.version.ID)
	require.NoError(t, err)
	doc, err := e.store.GetDocument(ctx, e.docs(t)["index.md"].ID)
	require.NoError(t, err)
	assert.Equal(t, "A guide.", doc.Metadata["summary"])

	failing := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	h, err := failing.syncer(Options{Enricher: fakeEnricher{err: errors.New("model down")}}).Sync(ctx, failing.version.ID)
	require.NoError(t, err, "enrichment failure never fails a document")
	assert.Equal(t, 2, h.DocumentsUpdated)
}

func TestRecoverStale(t *testing.T) {
	e := newEnv(t, storage.SourceGitHub, "https://github.com/acme/widgets")
	ctx := context.Background()

	h, err := e.store.CreateSyncHistory(ctx, e.version.ID)
	require.NoError(t, err)
	_, err = e.store.StartSync(ctx, h.ID)
	require.NoError(t, err)

	later := time.Now().Add(3 * time.Hour)
	s := e.syncer(Options{Now: func() time.Time { return later }})
	n, err := s.RecoverStale(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := e.store.GetSyncHistory(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SyncFailed, got.Status)
	assert.Equal(t, abandonedSync, got.ErrorDetail)

	_, err = s.Sync(ctx, e.version.ID)
	assert.NoError(t, err, "a recovered version can sync again")
}
