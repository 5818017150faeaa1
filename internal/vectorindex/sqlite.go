package vectorindex

import (
	"context"
	"fmt"

	"github.com/bull/docsearch-mcp/internal/storage"
)

// SQLiteIndex computes cosine distance in Go over the chunk vectors held by
// the store of record. Filters are pushed down into the SQL scan.
type SQLiteIndex struct {
	store *storage.Store
}

var _ Index = (*SQLiteIndex)(nil)

func NewSQLiteIndex(store *storage.Store) *SQLiteIndex {
	return &SQLiteIndex{store: store}
}

func (x *SQLiteIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	where, args, err := ToSQL(q.Filter, QuestionMark, 0)
	if err != nil {
		return nil, err
	}

	var matches []Match
	err = x.store.ScanEmbeddedChunks(ctx, where, args, func(ch *storage.DocumentChunk) error {
		if len(ch.Embedding) != len(q.Vector) {
			return fmt.Errorf("%w: chunk %s has %d dimensions, query has %d",
				ErrDimensionMismatch, ch.ID, len(ch.Embedding), len(q.Vector))
		}
		d := CosineDistance(q.Vector, ch.Embedding)
		if !q.accepts(d) {
			return nil
		}
		ch.Embedding = nil
		matches = append(matches, Match{Chunk: ch, Distance: d})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return q.rank(matches, nil), nil
}
