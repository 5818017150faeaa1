//go:build integration

package vectorindex

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docsearch-mcp/internal/storage"
)

const testDim = 4

func mirrorFixture() (*storage.Document, []*storage.DocumentChunk) {
	doc := &storage.Document{ID: uuid.NewString(), VersionID: uuid.NewString(), Title: "Guide", Path: "guide.md"}
	chunks := []*storage.DocumentChunk{
		{ID: uuid.NewString(), ChunkIndex: 0, Content: "near", TokenCount: 5, Embedding: []float32{1, 0, 0, 0}},
		{ID: uuid.NewString(), ChunkIndex: 1, Content: "far", TokenCount: 50, Embedding: []float32{0, 1, 0, 0}},
		{ID: uuid.NewString(), ChunkIndex: 2, Content: "unembedded"},
	}
	return doc, chunks
}

// exerciseMirror runs the same contract against any mirroring backend.
func exerciseMirror(t *testing.T, idx interface {
	Index
	ChunkMirror
}) {
	ctx := context.Background()
	doc, chunks := mirrorFixture()
	require.NoError(t, idx.ReplaceDocumentChunks(ctx, doc, chunks))

	got, err := idx.Query(ctx, Query{Filter: Version(doc.VersionID), Vector: []float32{1, 0, 0, 0}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, chunks[0].ID, got[0].Chunk.ID)
	assert.InDelta(t, 0, got[0].Distance, 1e-5)
	assert.Equal(t, "guide.md", got[0].Chunk.Metadata.Path)

	got, err = idx.Query(ctx, Query{Filter: Version(doc.VersionID), Vector: []float32{1, 0, 0, 0}, TopK: 10, MaxDistance: 0.5})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = idx.Query(ctx, Query{
		Filter: And{Version(doc.VersionID), Range{Key: KeyTokenCount, Gte: Bound(10)}},
		Vector: []float32{1, 0, 0, 0},
		TopK:   10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, chunks[1].ID, got[0].Chunk.ID)

	// Replacing supersedes, never merges.
	require.NoError(t, idx.ReplaceDocumentChunks(ctx, doc, chunks[:1]))
	got, err = idx.Query(ctx, Query{Filter: Version(doc.VersionID), Vector: []float32{0, 1, 0, 0}, TopK: 10})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, idx.DeleteDocumentChunks(ctx, doc.ID))
	got, err = idx.Query(ctx, Query{Filter: Version(doc.VersionID), Vector: []float32{1, 0, 0, 0}, TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = idx.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrantIndex(t *testing.T) {
	ctx := context.Background()
	idx, err := NewQdrantIndex(ctx, QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "test_" + uuid.NewString()[:8],
		Dimension:  testDim,
	})
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	defer idx.Close()
	defer func() { _ = idx.DropCollection(ctx) }()

	require.NoError(t, idx.EnsureCollection(ctx), "EnsureCollection is idempotent")
	exerciseMirror(t, idx)
}

func TestPgvectorIndex(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping pgvector test")
	}
	idx, err := NewPgvectorIndex(context.Background(), dsn, testDim)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer idx.Close()

	exerciseMirror(t, idx)
}
