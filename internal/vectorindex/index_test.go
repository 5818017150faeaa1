package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docsearch-mcp/internal/storage"
)

func match(id, version string, d float64) Match {
	return Match{
		Chunk:    &storage.DocumentChunk{ID: id, Metadata: storage.ChunkMetadata{VersionID: version}},
		Distance: d,
	}
}

func TestQueryRank_TiesAcrossTopKBoundary(t *testing.T) {
	// Backend returned an over-fetched page with the tie in arbitrary order.
	page := []Match{
		match("d", "v1", 0.2),
		match("a", "v1", 0.1),
		match("c", "v1", 0.2),
		match("b", "v1", 0.2),
	}
	q := Query{Vector: []float32{1}, TopK: 2}

	got := q.rank(page, nil)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestQueryRank_AppliesPredicateAndCutoff(t *testing.T) {
	keep, err := Predicate(Version("v1"))
	require.NoError(t, err)

	page := []Match{
		match("a", "v2", 0.05),
		match("b", "v1", 0.1),
		match("c", "v1", 0.3),
		match("d", "v1", 0.5),
	}
	q := Query{Vector: []float32{1}, TopK: 10, MaxDistance: 0.5}

	got := q.rank(page, keep)
	assert.Equal(t, []string{"b", "c"}, ids(got), "other versions and the cutoff distance itself are excluded")
}
