package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docsearch-mcp/internal/embedding"
	"github.com/bull/docsearch-mcp/internal/storage"
	"github.com/bull/docsearch-mcp/internal/vectorindex"
)

type fakeStore struct {
	hits      []storage.LexicalHit
	docs      map[string]*storage.Document
	chunks    map[string]*storage.DocumentChunk
	lastScope storage.TextScope
	lastLimit int
}

func (f *fakeStore) TextSearch(_ context.Context, _ string, scope storage.TextScope, limit int) ([]storage.LexicalHit, error) {
	f.lastScope, f.lastLimit = scope, limit
	return f.hits, nil
}

func (f *fakeStore) GetDocuments(_ context.Context, ids []string) (map[string]*storage.Document, error) {
	out := map[string]*storage.Document{}
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (f *fakeStore) GetChunks(_ context.Context, ids []string) (map[string]*storage.DocumentChunk, error) {
	out := map[string]*storage.DocumentChunk{}
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type fakeIndex struct {
	matches []vectorindex.Match
	last    vectorindex.Query
}

func (f *fakeIndex) Query(_ context.Context, q vectorindex.Query) ([]vectorindex.Match, error) {
	f.last = q
	return f.matches, nil
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fixture has one document with two chunks. Chunk c0 is lexically strong and
// semantically weak; c1 is the reverse.
func fixture() (*fakeStore, *fakeIndex) {
	doc := &storage.Document{ID: "d1", VersionID: "v1", Title: "Install", Path: "install.md", Content: "install the widget", UpdatedAt: epoch}
	c0 := &storage.DocumentChunk{ID: "c0", DocumentID: "d1", ChunkIndex: 0, Content: "install widget with make"}
	c1 := &storage.DocumentChunk{ID: "c1", DocumentID: "d1", ChunkIndex: 1, Content: "setting things up"}
	st := &fakeStore{
		hits: []storage.LexicalHit{
			{Kind: storage.HitDocument, ID: "d1", DocumentID: "d1", Score: 0.5, UpdatedAt: epoch},
			{Kind: storage.HitChunk, ID: "c0", DocumentID: "d1", ChunkIndex: 0, Score: 1.0, UpdatedAt: epoch},
		},
		docs:   map[string]*storage.Document{"d1": doc},
		chunks: map[string]*storage.DocumentChunk{"c0": c0, "c1": c1},
	}
	idx := &fakeIndex{matches: []vectorindex.Match{
		{Chunk: c1, Distance: 0.1},
		{Chunk: c0, Distance: 0.8},
	}}
	return st, idx
}

func ptr(f float64) *float64 { return &f }

func itemIDs(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.identifier()
	}
	return out
}

func TestSearch_AlphaExtremes(t *testing.T) {
	st, idx := fixture()
	e := NewEngine(st, idx, fakeEmbedder{}, DefaultConfig(), nil)
	ctx := context.Background()

	lexOnly, err := e.Search(ctx, Request{Query: "install", Alpha: ptr(1), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "d1", "c1"}, itemIDs(lexOnly.Items))
	for _, it := range lexOnly.Items {
		assert.InDelta(t, it.LexicalScore, it.Score, 1e-9)
	}

	semOnly, err := e.Search(ctx, Request{Query: "install", Alpha: ptr(0), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c0", "d1"}, itemIDs(semOnly.Items))
	for _, it := range semOnly.Items {
		assert.InDelta(t, it.SemanticScore, it.Score, 1e-9)
	}
	assert.InDelta(t, 0.9, semOnly.Items[0].Score, 1e-9)
}

func TestSearch_DefaultsAndClamp(t *testing.T) {
	st, idx := fixture()
	e := NewEngine(st, idx, fakeEmbedder{}, DefaultConfig(), nil)

	resp, err := e.Search(context.Background(), Request{Query: "install", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 50, resp.Limit)
	assert.Equal(t, 0.3, resp.Alpha)
	assert.Equal(t, 200, st.lastLimit)
	assert.Equal(t, 200, idx.last.TopK)
	assert.Nil(t, idx.last.Filter, "unscoped search has no filter")

	// 0.3*1.0 + 0.7*0.2 for c0, 0.3*0 + 0.7*0.9 for c1.
	byID := map[string]Item{}
	for _, it := range resp.Items {
		byID[it.identifier()] = it
	}
	assert.InDelta(t, 0.44, byID["c0"].Score, 1e-9)
	assert.InDelta(t, 0.63, byID["c1"].Score, 1e-9)
	assert.InDelta(t, 0.15, byID["d1"].Score, 1e-9)
	require.NotNil(t, byID["c1"].ChunkIndex)
	assert.Equal(t, 1, *byID["c1"].ChunkIndex)
	assert.Nil(t, byID["d1"].ChunkIndex)
	assert.Equal(t, "Install", byID["c1"].Title)
	assert.Equal(t, "setting things up", byID["c1"].Snippet)
}

func TestSearch_VersionScope(t *testing.T) {
	st, idx := fixture()
	e := NewEngine(st, idx, fakeEmbedder{}, DefaultConfig(), nil)

	_, err := e.Search(context.Background(), Request{Query: "install", VersionID: "v1", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, "v1", st.lastScope.VersionID)
	assert.Equal(t, vectorindex.Version("v1"), idx.last.Filter)
}

func TestSearch_MinSimilarityFloor(t *testing.T) {
	st, idx := fixture()
	e := NewEngine(st, idx, fakeEmbedder{}, DefaultConfig(), nil)

	resp, err := e.Search(context.Background(), Request{Query: "install", MinSimilarity: ptr(0.5), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, itemIDs(resp.Items))
	for _, it := range resp.Items {
		assert.GreaterOrEqual(t, it.Score, 0.5)
	}

	resp, err = e.Search(context.Background(), Request{Query: "install", MinSimilarity: ptr(0.99), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
}

func TestSearch_LimitTruncates(t *testing.T) {
	st, idx := fixture()
	e := NewEngine(st, idx, fakeEmbedder{}, DefaultConfig(), nil)

	resp, err := e.Search(context.Background(), Request{Query: "install", Alpha: ptr(1), Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c0"}, itemIDs(resp.Items))
}

func TestSearch_TiesBreakByRecencyThenID(t *testing.T) {
	older := &storage.Document{ID: "d-old", Title: "Old", UpdatedAt: epoch}
	newer := &storage.Document{ID: "d-new", Title: "New", UpdatedAt: epoch.Add(time.Hour)}
	twin := &storage.Document{ID: "d-a", Title: "Twin", UpdatedAt: epoch}
	st := &fakeStore{
		hits: []storage.LexicalHit{
			{Kind: storage.HitDocument, ID: "d-old", DocumentID: "d-old", Score: 1},
			{Kind: storage.HitDocument, ID: "d-new", DocumentID: "d-new", Score: 1},
			{Kind: storage.HitDocument, ID: "d-a", DocumentID: "d-a", Score: 1},
		},
		docs: map[string]*storage.Document{"d-old": older, "d-new": newer, "d-a": twin},
	}
	e := NewEngine(st, &fakeIndex{}, fakeEmbedder{}, DefaultConfig(), nil)

	resp, err := e.Search(context.Background(), Request{Query: "x", Alpha: ptr(1), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"d-new", "d-a", "d-old"}, itemIDs(resp.Items))
}

func TestSearch_DropsVanishedDocuments(t *testing.T) {
	st, idx := fixture()
	delete(st.docs, "d1")
	e := NewEngine(st, idx, fakeEmbedder{}, DefaultConfig(), nil)

	resp, err := e.Search(context.Background(), Request{Query: "install", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	st, idx := fixture()
	cause := fmt.Errorf("%w: upstream 500", embedding.ErrEmbeddingFailed)
	e := NewEngine(st, idx, fakeEmbedder{err: cause}, DefaultConfig(), nil)

	_, err := e.Search(context.Background(), Request{Query: "install", Limit: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryEmbedding)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingFailed)
}

func TestSearch_InvalidRequests(t *testing.T) {
	st, idx := fixture()
	e := NewEngine(st, idx, fakeEmbedder{}, DefaultConfig(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty query", Request{Query: "   ", Limit: 5}, ErrEmptyQuery},
		{"zero limit", Request{Query: "x"}, ErrInvalidLimit},
		{"negative limit", Request{Query: "x", Limit: -1}, ErrInvalidLimit},
		{"alpha above one", Request{Query: "x", Limit: 5, Alpha: ptr(1.5)}, ErrInvalidAlpha},
		{"negative alpha", Request{Query: "x", Limit: 5, Alpha: ptr(-0.1)}, ErrInvalidAlpha},
		{"NaN alpha", Request{Query: "x", Limit: 5, Alpha: ptr(math.NaN())}, ErrInvalidAlpha},
		{"NaN min similarity", Request{Query: "x", Limit: 5, MinSimilarity: ptr(math.NaN())}, ErrInvalidMinSimilarity},
		{"infinite min similarity", Request{Query: "x", Limit: 5, MinSimilarity: ptr(math.Inf(1))}, ErrInvalidMinSimilarity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Search(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCombine_Monotone(t *testing.T) {
	steps := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1}
	for _, alpha := range steps {
		for _, lex := range steps {
			for _, sem := range steps {
				base := Combine(alpha, lex, sem)
				assert.GreaterOrEqual(t, Combine(alpha, min(1, lex+0.1), sem), base)
				assert.GreaterOrEqual(t, Combine(alpha, lex, min(1, sem+0.1)), base)
				assert.GreaterOrEqual(t, base, 0.0)
				assert.LessOrEqual(t, base, 1.0+1e-12)
			}
		}
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", Snippet("a\n\n b\tc", "x", 100))

	long := strings.Repeat("filler ", 50) + "needle here " + strings.Repeat("tail ", 50)
	s := Snippet(long, "Needle", 40)
	assert.Contains(t, s, "needle")
	assert.True(t, strings.HasPrefix(s, "…"))
	assert.True(t, strings.HasSuffix(s, "…"))

	s = Snippet(long, "absent", 20)
	assert.True(t, strings.HasPrefix(s, "filler"))
}

// textEmbedder maps words to fixed axes so the end-to-end test is deterministic.
type textEmbedder struct{}

func (textEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := []float32{0.01, 0.01, 0.01}
	text = strings.ToLower(text)
	if strings.Contains(text, "install") {
		v[0] = 1
	}
	if strings.Contains(text, "config") {
		v[1] = 1
	}
	if strings.Contains(text, "deploy") {
		v[2] = 1
	}
	return v, nil
}

func TestSearch_EndToEndWithStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	lib := &storage.Library{Name: "widgets", SourceType: storage.SourceLocal}
	require.NoError(t, store.CreateLibrary(ctx, lib))
	v1 := &storage.LibraryVersion{LibraryID: lib.ID, Version: "v1", IsLatest: true}
	v2 := &storage.LibraryVersion{LibraryID: lib.ID, Version: "v2"}
	require.NoError(t, store.CreateVersion(ctx, v1))
	require.NoError(t, store.CreateVersion(ctx, v2))

	emb := textEmbedder{}
	save := func(versionID, path, title, content string) {
		vec, _ := emb.Embed(ctx, content)
		doc := &storage.Document{VersionID: versionID, Path: path, Title: title, Content: content, ContentHash: path}
		require.NoError(t, store.SaveDocument(ctx, doc, []*storage.DocumentChunk{
			{ChunkIndex: 0, Content: content, Embedding: vec},
		}))
	}
	save(v1.ID, "install.md", "Install", "How to install the widget server")
	save(v1.ID, "config.md", "Config", "Configuration reference for widgets")
	save(v2.ID, "install.md", "Install", "Install steps for version two")

	versionID, err := ResolveVersion(ctx, store, "widgets", "")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, versionID)

	e := NewEngine(store, vectorindex.NewSQLiteIndex(store), emb, DefaultConfig(), nil)
	resp, err := e.Search(ctx, Request{Query: "install", VersionID: versionID, Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Items)
	assert.Equal(t, "install.md", resp.Items[0].Path)
	for _, it := range resp.Items {
		assert.Equal(t, v1.ID, it.VersionID)
	}
	for i := 1; i < len(resp.Items); i++ {
		assert.GreaterOrEqual(t, resp.Items[i-1].Score, resp.Items[i].Score)
	}
}

func TestResolveVersion(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "scope.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	lib := &storage.Library{Name: "widgets", SourceType: storage.SourceManual}
	require.NoError(t, store.CreateLibrary(ctx, lib))
	v := &storage.LibraryVersion{LibraryID: lib.ID, Version: "v1"}
	require.NoError(t, store.CreateVersion(ctx, v))

	id, err := ResolveVersion(ctx, store, "", "")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = ResolveVersion(ctx, store, "widgets", "v1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, id)

	_, err = ResolveVersion(ctx, store, "widgets", "")
	assert.True(t, errors.Is(err, ErrUnknownScope), "no version is flagged latest")

	_, err = ResolveVersion(ctx, store, "gadgets", "")
	assert.ErrorIs(t, err, ErrUnknownScope)

	_, err = ResolveVersion(ctx, store, "", "v1")
	assert.ErrorIs(t, err, ErrUnknownScope)
}
