package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// HitKind tells whether a hit matched a whole document or one of its chunks.
type HitKind string

const (
	HitDocument HitKind = "document"
	HitChunk    HitKind = "chunk"
)

// LexicalHit is one full-text match. Score is bm25 rescaled into [0,1]
// relative to the best hit of the same kind.
type LexicalHit struct {
	Kind       HitKind
	ID         string // Document id or chunk id depending on Kind
	DocumentID string
	ChunkIndex int
	Score      float64
	UpdatedAt  time.Time
}

// TextScope narrows a text search. Empty fields do not filter.
type TextScope struct {
	VersionID string
}

// TextSearch ranks documents and chunks against query with FTS5 bm25.
// Up to limit hits of each kind are returned, documents first.
// A query without any searchable term yields no hits.
func (s *Store) TextSearch(ctx context.Context, query string, scope TextScope, limit int) ([]LexicalHit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("text search limit must be positive, got %d", limit)
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	docs, err := s.searchDocumentsText(ctx, match, scope, limit)
	if err != nil {
		return nil, err
	}
	chunks, err := s.searchChunksText(ctx, match, scope, limit)
	if err != nil {
		return nil, err
	}
	return append(docs, chunks...), nil
}

func (s *Store) searchDocumentsText(ctx context.Context, match string, scope TextScope, limit int) ([]LexicalHit, error) {
	query := `
		SELECT d.id, d.updated_at, -bm25(documents_fts, 2.0, 1.0) AS score
		FROM documents_fts
		JOIN documents d ON d.seq = documents_fts.rowid
		WHERE documents_fts MATCH ?`
	args := []any{match}
	if scope.VersionID != "" {
		query += ` AND d.version_id = ?`
		args = append(args, scope.VersionID)
	}
	query += ` ORDER BY score DESC, d.id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("document text search: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var (
			hit       = LexicalHit{Kind: HitDocument}
			updatedAt string
		)
		if err := rows.Scan(&hit.ID, &updatedAt, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan document hit: %w", err)
		}
		hit.DocumentID = hit.ID
		hit.UpdatedAt = parseTime(updatedAt)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	normalizeScores(hits)
	return hits, nil
}

func (s *Store) searchChunksText(ctx context.Context, match string, scope TextScope, limit int) ([]LexicalHit, error) {
	query := `
		SELECT c.id, c.document_id, c.chunk_index, d.updated_at, -bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN document_chunks c ON c.seq = chunks_fts.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?`
	args := []any{match}
	if scope.VersionID != "" {
		query += ` AND c.version_id = ?`
		args = append(args, scope.VersionID)
	}
	query += ` ORDER BY score DESC, c.id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk text search: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var (
			hit       = LexicalHit{Kind: HitChunk}
			updatedAt string
		)
		if err := rows.Scan(&hit.ID, &hit.DocumentID, &hit.ChunkIndex, &updatedAt, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		hit.UpdatedAt = parseTime(updatedAt)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	normalizeScores(hits)
	return hits, nil
}

// normalizeScores divides every score by the best one. Hits are expected in
// descending score order.
func normalizeScores(hits []LexicalHit) {
	if len(hits) == 0 {
		return
	}
	best := hits[0].Score
	for i := range hits {
		if best <= 0 {
			hits[i].Score = 1
			continue
		}
		hits[i].Score = hits[i].Score / best
		if hits[i].Score < 0 {
			hits[i].Score = 0
		}
	}
}

// ftsQuery turns free text into an FTS5 expression that ORs every term as a
// quoted string, so user input can never inject FTS5 syntax.
func ftsQuery(text string) string {
	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(t)
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
