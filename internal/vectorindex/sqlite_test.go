package vectorindex

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docsearch-mcp/internal/storage"
)

// seedIndex stores two versions. Version A holds chunks at known angles from
// the x axis so their cosine distances to [1,0] are predictable.
func seedIndex(t *testing.T) (*storage.Store, string, string) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "idx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	lib := &storage.Library{Name: "widgets", SourceType: storage.SourceLocal}
	require.NoError(t, store.CreateLibrary(ctx, lib))
	va := &storage.LibraryVersion{LibraryID: lib.ID, Version: "a"}
	vb := &storage.LibraryVersion{LibraryID: lib.ID, Version: "b"}
	require.NoError(t, store.CreateVersion(ctx, va))
	require.NoError(t, store.CreateVersion(ctx, vb))

	degrees := []float64{0, 10, 30, 60, 90, 180}
	for i, deg := range degrees {
		rad := deg * math.Pi / 180
		doc := &storage.Document{VersionID: va.ID, Path: fmt.Sprintf("a%d.md", i), Content: "x", ContentHash: "h"}
		chunk := &storage.DocumentChunk{
			ID:         fmt.Sprintf("chunk-a%d", i),
			ChunkIndex: 0,
			Content:    fmt.Sprintf("%v degrees", deg),
			Embedding:  []float32{float32(math.Cos(rad)), float32(math.Sin(rad))},
			TokenCount: 10 * (i + 1),
		}
		require.NoError(t, store.SaveDocument(ctx, doc, []*storage.DocumentChunk{chunk}))
	}

	// Same direction as the query in version B, plus a chunk with no embedding.
	docB := &storage.Document{VersionID: vb.ID, Path: "b.md", Content: "x", ContentHash: "h"}
	require.NoError(t, store.SaveDocument(ctx, docB, []*storage.DocumentChunk{
		{ID: "chunk-b0", ChunkIndex: 0, Content: "b", Embedding: []float32{2, 0}},
	}))
	docNull := &storage.Document{VersionID: vb.ID, Path: "null.md", Content: "x", ContentHash: "h"}
	require.NoError(t, store.SaveDocument(ctx, docNull, []*storage.DocumentChunk{
		{ID: "chunk-null", ChunkIndex: 0, Content: "no vector"},
	}))
	return store, va.ID, vb.ID
}

func ids(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Chunk.ID
	}
	return out
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 0}, []float32{3, 0}), 1e-9)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 1.0, CosineDistance([]float32{0, 0}, []float32{1, 0}))
}

func TestSQLiteIndex_OrderingAndFilter(t *testing.T) {
	store, va, vb := seedIndex(t)
	idx := NewSQLiteIndex(store)
	ctx := context.Background()

	got, err := idx.Query(ctx, Query{Filter: Version(va), Vector: []float32{1, 0}, TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-a0", "chunk-a1", "chunk-a2"}, ids(got))
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
	assert.InDelta(t, 1.0, got[0].Similarity(), 1e-6)
	assert.Equal(t, va, got[0].Chunk.Metadata.VersionID)
	assert.Nil(t, got[0].Chunk.Embedding, "vectors are not returned")

	got, err = idx.Query(ctx, Query{Filter: Version(vb), Vector: []float32{1, 0}, TopK: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-b0"}, ids(got), "null embeddings are never returned")

	got, err = idx.Query(ctx, Query{
		Filter: And{Version(va), Range{Key: KeyTokenCount, Gte: Bound(30)}},
		Vector: []float32{1, 0},
		TopK:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-a2", "chunk-a3", "chunk-a4", "chunk-a5"}, ids(got))
}

func TestSQLiteIndex_TiesBreakByChunkID(t *testing.T) {
	store, _, _ := seedIndex(t)
	idx := NewSQLiteIndex(store)

	got, err := idx.Query(context.Background(), Query{Vector: []float32{1, 0}, TopK: 2})
	require.NoError(t, err)
	// chunk-a0 and chunk-b0 are both at distance 0.
	assert.Equal(t, []string{"chunk-a0", "chunk-b0"}, ids(got))
}

func TestSQLiteIndex_DistanceCutoff(t *testing.T) {
	store, va, _ := seedIndex(t)
	idx := NewSQLiteIndex(store)
	ctx := context.Background()

	got, err := idx.Query(ctx, Query{Filter: Version(va), Vector: []float32{1, 0}, TopK: 10, MaxDistance: 0.3})
	require.NoError(t, err)
	for _, m := range got {
		assert.Less(t, m.Distance, 0.3)
	}
	// 0, 10 and 30 degrees are within 1 - cos(30deg) ~= 0.134; 60 degrees is 0.5.
	assert.Equal(t, []string{"chunk-a0", "chunk-a1", "chunk-a2"}, ids(got))

	// Exactly at the cutoff is excluded: 180 degrees is distance 2.
	got, err = idx.Query(ctx, Query{Filter: Version(va), Vector: []float32{1, 0}, TopK: 10, MaxDistance: 2})
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.NotContains(t, ids(got), "chunk-a5")

	var previous []string
	for _, maxDist := range []float64{0.01, 0.1, 0.3, 0.6, 1.2, 2.1} {
		got, err := idx.Query(ctx, Query{Filter: Version(va), Vector: []float32{1, 0}, TopK: 10, MaxDistance: maxDist})
		require.NoError(t, err)
		assert.Subset(t, ids(got), previous, "raising maxDistance to %v removed results", maxDist)
		previous = ids(got)
	}
	assert.Len(t, previous, 6)
}

func TestSQLiteIndex_InvalidQueries(t *testing.T) {
	store, _, _ := seedIndex(t)
	idx := NewSQLiteIndex(store)
	ctx := context.Background()

	_, err := idx.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 0})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = idx.Query(ctx, Query{TopK: 1})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = idx.Query(ctx, Query{Vector: []float32{1, 0, 0}, TopK: 1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 1, Filter: Eq{Key: "repo", Value: "x"}})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestSQLiteIndex_ConcurrentQueries(t *testing.T) {
	store, va, _ := seedIndex(t)
	idx := NewSQLiteIndex(store)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := idx.Query(context.Background(), Query{Filter: Version(va), Vector: []float32{0, 1}, TopK: 1})
			if assert.NoError(t, err) && assert.Len(t, got, 1) {
				assert.Equal(t, "chunk-a4", got[0].Chunk.ID)
			}
		}()
	}
	wg.Wait()
}
