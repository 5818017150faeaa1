package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/pgvector/pgvector-go"

	"github.com/bull/docsearch-mcp/internal/storage"
)

// PgvectorIndex mirrors chunk vectors into Postgres and queries them with the
// pgvector cosine distance operator.
type PgvectorIndex struct {
	db        *sql.DB
	dimension int
}

var (
	_ Index       = (*PgvectorIndex)(nil)
	_ ChunkMirror = (*PgvectorIndex)(nil)
)

// NewPgvectorIndex opens the database and creates the vector table if needed.
func NewPgvectorIndex(ctx context.Context, dsn string, dimension int) (*PgvectorIndex, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector dimension must be positive, got %d", dimension)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	x := &PgvectorIndex{db: db, dimension: dimension}
	if err := x.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return x, nil
}

func (x *PgvectorIndex) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS chunk_vectors (
			chunk_id    TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			version_id  TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			path        TEXT NOT NULL DEFAULT '',
			header_path TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			embedding   vector(` + strconv.Itoa(x.dimension) + `) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chunk_vectors_version_idx ON chunk_vectors (version_id)`,
		`CREATE INDEX IF NOT EXISTS chunk_vectors_document_idx ON chunk_vectors (document_id)`,
		`CREATE INDEX IF NOT EXISTS chunk_vectors_embedding_idx ON chunk_vectors USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (x *PgvectorIndex) Close() error {
	if x.db != nil {
		return x.db.Close()
	}
	return nil
}

func (x *PgvectorIndex) Health(ctx context.Context) error {
	return x.db.PingContext(ctx)
}

func (x *PgvectorIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if len(q.Vector) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(q.Vector), x.dimension)
	}

	args := []any{pgvector.NewVector(q.Vector)}
	query := `
		SELECT chunk_id, document_id, version_id, chunk_index, title, path, header_path, content, token_count,
		       embedding <=> $1 AS distance
		FROM chunk_vectors
		WHERE TRUE`
	if q.MaxDistance > 0 {
		args = append(args, q.MaxDistance)
		query += ` AND embedding <=> $1 < $2`
	}
	where, filterArgs, err := ToSQL(q.Filter, Dollar, len(args))
	if err != nil {
		return nil, err
	}
	if where != "" {
		query += " AND " + where
		args = append(args, filterArgs...)
	}
	args = append(args, q.TopK)
	query += ` ORDER BY distance, chunk_id LIMIT $` + strconv.Itoa(len(args))

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			ch storage.DocumentChunk
			m  Match
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Metadata.VersionID, &ch.ChunkIndex,
			&ch.Metadata.Title, &ch.Metadata.Path, &ch.Metadata.HeaderPath, &ch.Content, &ch.TokenCount,
			&m.Distance); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		ch.Metadata.DocumentID = ch.DocumentID
		m.Chunk = &ch
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ReplaceDocumentChunks swaps a document's rows in one transaction.
func (x *PgvectorIndex) ReplaceDocumentChunks(ctx context.Context, doc *storage.Document, chunks []*storage.DocumentChunk) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, doc.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete chunk vectors: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_vectors
			(chunk_id, document_id, version_id, chunk_index, title, path, header_path, content, token_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, ch := range chunks {
		if ch.Embedding == nil {
			continue
		}
		if len(ch.Embedding) != x.dimension {
			_ = tx.Rollback()
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(ch.Embedding), x.dimension)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, doc.ID, doc.VersionID, ch.ChunkIndex, doc.Title, doc.Path, ch.Metadata.HeaderPath,
			ch.Content, ch.TokenCount, pgvector.NewVector(ch.Embedding),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk vector %d: %w", ch.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (x *PgvectorIndex) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunk vectors: %w", err)
	}
	return nil
}
