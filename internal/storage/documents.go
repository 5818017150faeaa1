package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const documentColumns = `id, version_id, title, path, content, content_hash, doc_type, metadata, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var (
		doc       Document
		metadata  string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&doc.ID, &doc.VersionID, &doc.Title, &doc.Path, &doc.Content, &doc.ContentHash,
		&doc.DocType, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			doc.Metadata = nil
		}
	}
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, "document "+id)
	}
	return doc, nil
}

// GetDocumentByPath returns the document stored at path for a version.
func (s *Store) GetDocumentByPath(ctx context.Context, versionID, path string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE version_id = ? AND path = ?`, versionID, path)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, "document "+path)
	}
	return doc, nil
}

// GetDocuments returns the documents with the given ids keyed by id. Missing ids are absent.
func (s *Store) GetDocuments(ctx context.Context, ids []string) (map[string]*Document, error) {
	out := make(map[string]*Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out[doc.ID] = doc
	}
	return out, rows.Err()
}

// DocumentRef identifies a stored document without its content.
type DocumentRef struct {
	ID          string
	Path        string
	ContentHash string
}

// ListDocumentRefs returns every document of a version ordered by path.
func (s *Store) ListDocumentRefs(ctx context.Context, versionID string) ([]DocumentRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, content_hash FROM documents WHERE version_id = ? ORDER BY path`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRef
	for rows.Next() {
		var ref DocumentRef
		if err := rows.Scan(&ref.ID, &ref.Path, &ref.ContentHash); err != nil {
			return nil, fmt.Errorf("scan document ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// SaveDocument upserts doc (keyed by version and path) and replaces all of its
// chunks in one transaction. Old chunks are removed, never merged.
// Chunk indices must form the sequence 0..n-1 and embeddings must be either all
// present with one dimension or all nil.
func (s *Store) SaveDocument(ctx context.Context, doc *Document, chunks []*DocumentChunk) error {
	if doc == nil {
		return fmt.Errorf("nil document")
	}
	if err := validateChunks(chunks); err != nil {
		return err
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	now := s.now().UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID, createdAt string
		err := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM documents WHERE version_id = ? AND path = ?`,
			doc.VersionID, doc.Path).Scan(&existingID, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if doc.ID == "" {
				doc.ID = uuid.NewString()
			}
			doc.CreatedAt = now
			doc.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (`+documentColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				doc.ID, doc.VersionID, doc.Title, doc.Path, doc.Content, doc.ContentHash,
				doc.DocType, string(metaJSON), formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt)); err != nil {
				return fmt.Errorf("insert document: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup document: %w", err)
		default:
			doc.ID = existingID
			doc.CreatedAt = parseTime(createdAt)
			doc.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, `
				UPDATE documents
				SET title = ?, content = ?, content_hash = ?, doc_type = ?, metadata = ?, updated_at = ?
				WHERE id = ?`,
				doc.Title, doc.Content, doc.ContentHash, doc.DocType, string(metaJSON),
				formatTime(doc.UpdatedAt), doc.ID); err != nil {
				return fmt.Errorf("update document: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, doc.ID); err != nil {
			return fmt.Errorf("delete old chunks: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks
				(id, document_id, chunk_index, content, embedding, token_count, version_id, title, path, header_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, ch := range chunks {
			if ch.ID == "" {
				ch.ID = uuid.NewString()
			}
			ch.DocumentID = doc.ID
			ch.Metadata.DocumentID = doc.ID
			ch.Metadata.VersionID = doc.VersionID
			if ch.Metadata.Title == "" {
				ch.Metadata.Title = doc.Title
			}
			if ch.Metadata.Path == "" {
				ch.Metadata.Path = doc.Path
			}
			if _, err := stmt.ExecContext(ctx,
				ch.ID, ch.DocumentID, ch.ChunkIndex, ch.Content, EncodeVector(ch.Embedding), ch.TokenCount,
				ch.Metadata.VersionID, ch.Metadata.Title, ch.Metadata.Path, ch.Metadata.HeaderPath); err != nil {
				return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
			}
		}
		return nil
	})
}

func validateChunks(chunks []*DocumentChunk) error {
	sorted := make([]*DocumentChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })

	dim := -1
	for i, ch := range sorted {
		if ch.ChunkIndex != i {
			return fmt.Errorf("chunk indices must be dense from 0: missing or duplicate index %d", i)
		}
		n := len(ch.Embedding)
		if ch.Embedding == nil {
			n = 0
		}
		if dim == -1 {
			dim = n
			continue
		}
		if n != dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d", ErrDimensionMismatch, ch.ChunkIndex, n, dim)
		}
	}
	return nil
}

// DeleteDocument removes a document and its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

const chunkColumns = `id, document_id, chunk_index, content, embedding, token_count, version_id, title, path, header_path`

func scanChunk(row interface{ Scan(...any) error }) (*DocumentChunk, error) {
	var (
		ch   DocumentChunk
		blob []byte
	)
	if err := row.Scan(&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.Content, &blob, &ch.TokenCount,
		&ch.Metadata.VersionID, &ch.Metadata.Title, &ch.Metadata.Path, &ch.Metadata.HeaderPath); err != nil {
		return nil, err
	}
	ch.Embedding = DecodeVector(blob)
	ch.Metadata.DocumentID = ch.DocumentID
	return &ch, nil
}

// GetChunk returns a chunk by id.
func (s *Store) GetChunk(ctx context.Context, id string) (*DocumentChunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM document_chunks WHERE id = ?`, id)
	ch, err := scanChunk(row)
	if err != nil {
		return nil, notFound(err, "chunk "+id)
	}
	return ch, nil
}

// GetChunks returns the chunks with the given ids keyed by id, without embeddings.
// Missing ids are absent.
func (s *Store) GetChunks(ctx context.Context, ids []string) (map[string]*DocumentChunk, error) {
	out := make(map[string]*DocumentChunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, NULL, token_count, version_id, title, path, header_path
		 FROM document_chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out[ch.ID] = ch
	}
	return out, rows.Err()
}

// ListChunks returns a document's chunks in index order.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]*DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []*DocumentChunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ScanEmbeddedChunks streams every chunk that has an embedding and satisfies
// the SQL predicate where (with args). An empty predicate matches all chunks.
// fn is called once per chunk; returning an error stops the scan.
func (s *Store) ScanEmbeddedChunks(ctx context.Context, where string, args []any, fn func(*DocumentChunk) error) error {
	query := `SELECT ` + chunkColumns + ` FROM document_chunks WHERE embedding IS NOT NULL`
	if where != "" {
		query += " AND (" + where + ")"
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		if err := fn(ch); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Stats counts documents, chunks and embedded chunks for a version.
// An empty versionID counts across all versions.
func (s *Store) Stats(ctx context.Context, versionID string) (*IndexStats, error) {
	var stats IndexStats
	docQuery := `SELECT COUNT(*) FROM documents`
	chunkQuery := `SELECT COUNT(*), COUNT(embedding) FROM document_chunks`
	var args []any
	if versionID != "" {
		docQuery += ` WHERE version_id = ?`
		chunkQuery += ` WHERE version_id = ?`
		args = append(args, versionID)
	}
	if err := s.db.QueryRowContext(ctx, docQuery, args...).Scan(&stats.Documents); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, chunkQuery, args...).Scan(&stats.Chunks, &stats.Embedded); err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	return &stats, nil
}
