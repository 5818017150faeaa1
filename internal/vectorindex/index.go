// Package vectorindex answers nearest-neighbour queries over chunk embeddings
// by cosine distance, with metadata filtering compiled per backend.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/bull/docsearch-mcp/internal/storage"
)

var (
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrInvalidQuery      = errors.New("invalid vector query")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Query describes a nearest-neighbour lookup.
type Query struct {
	Filter Filter
	Vector []float32
	TopK   int
	// MaxDistance is a strict cutoff: matches with distance >= MaxDistance are
	// dropped. Zero or less disables the cutoff.
	MaxDistance float64
}

// Match is a chunk and its cosine distance to the query vector.
type Match struct {
	Chunk    *storage.DocumentChunk
	Distance float64
}

// Similarity is 1 - Distance.
func (m Match) Similarity() float64 {
	return 1 - m.Distance
}

// Index is read-only from the caller's side. Implementations must allow
// concurrent queries.
type Index interface {
	Query(ctx context.Context, q Query) ([]Match, error)
}

// ChunkMirror is implemented by backends that hold their own copy of chunk
// vectors and must be told when the store of record changes.
type ChunkMirror interface {
	ReplaceDocumentChunks(ctx context.Context, doc *storage.Document, chunks []*storage.DocumentChunk) error
	DeleteDocumentChunks(ctx context.Context, documentID string) error
}

func (q Query) validate() error {
	if q.TopK <= 0 {
		return fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidQuery, q.TopK)
	}
	if len(q.Vector) == 0 {
		return fmt.Errorf("%w: empty query vector", ErrInvalidQuery)
	}
	return Validate(q.Filter)
}

// accepts reports whether distance d passes the cutoff.
func (q Query) accepts(d float64) bool {
	return q.MaxDistance <= 0 || d < q.MaxDistance
}

// CosineDistance returns 1 - cos(a, b) in [0, 2]. A zero vector is at
// distance 1 from everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	return math.Max(0, math.Min(2, d))
}

// rank drops matches outside the cutoff or rejected by keep, orders the
// rest and trims them to TopK. A nil keep accepts every chunk.
func (q Query) rank(ms []Match, keep func(*storage.DocumentChunk) bool) []Match {
	out := ms[:0]
	for _, m := range ms {
		if !q.accepts(m.Distance) || (keep != nil && !keep(m.Chunk)) {
			continue
		}
		out = append(out, m)
	}
	sortMatches(out)
	if len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out
}

// sortMatches orders by ascending distance, then chunk id.
func sortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Distance != ms[j].Distance {
			return ms[i].Distance < ms[j].Distance
		}
		return ms[i].Chunk.ID < ms[j].Chunk.ID
	})
}
