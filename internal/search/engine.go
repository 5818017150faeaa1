// Package search blends full-text and vector retrieval into one ranked list.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/docsearch-mcp/internal/storage"
	"github.com/bull/docsearch-mcp/internal/vectorindex"
)

var (
	ErrEmptyQuery     = errors.New("query must not be empty")
	ErrInvalidLimit   = errors.New("limit must be positive")
	ErrInvalidAlpha   = errors.New("alpha must be within [0,1]")
	ErrQueryEmbedding = errors.New("query embedding failed")

	ErrInvalidMinSimilarity = errors.New("min_similarity must be a finite number")
)

// Kind tells whether an item matched a whole document or one chunk.
type Kind = storage.HitKind

const (
	KindDocument = storage.HitDocument
	KindChunk    = storage.HitChunk
)

// Store is the slice of the store of record the engine reads.
type Store interface {
	TextSearch(ctx context.Context, query string, scope storage.TextScope, limit int) ([]storage.LexicalHit, error)
	GetDocuments(ctx context.Context, ids []string) (map[string]*storage.Document, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*storage.DocumentChunk, error)
}

// Embedder turns the query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds engine defaults.
type Config struct {
	DefaultAlpha         float64 // Weight of the lexical score
	DefaultMinSimilarity float64
	MaxLimit             int
	CandidateFactor      int // Each retriever fetches limit*CandidateFactor candidates
	SnippetLength        int // Runes
}

func (c Config) withDefaults() Config {
	if c.MaxLimit <= 0 {
		c.MaxLimit = 50
	}
	if c.CandidateFactor < 1 {
		c.CandidateFactor = 4
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = 300
	}
	return c
}

// DefaultConfig mirrors the environment defaults.
func DefaultConfig() Config {
	return Config{DefaultAlpha: 0.3, MaxLimit: 50, CandidateFactor: 4, SnippetLength: 300}
}

// Request is one search. Nil Alpha and MinSimilarity use the configured defaults.
type Request struct {
	Query         string
	VersionID     string // Empty searches every version
	Alpha         *float64
	MinSimilarity *float64
	Limit         int
}

// Item is one ranked result. ChunkID and ChunkIndex are set for chunk items only.
type Item struct {
	Kind          Kind      `json:"kind"`
	DocumentID    string    `json:"document_id"`
	ChunkID       string    `json:"chunk_id,omitempty"`
	ChunkIndex    *int      `json:"chunk_index,omitempty"`
	VersionID     string    `json:"version_id"`
	Title         string    `json:"title"`
	Path          string    `json:"path"`
	Snippet       string    `json:"snippet"`
	Score         float64   `json:"score"`
	LexicalScore  float64   `json:"lexical_score"`
	SemanticScore float64   `json:"semantic_score"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Response carries the ranked items and the parameters actually applied.
type Response struct {
	Items         []Item  `json:"items"`
	Alpha         float64 `json:"alpha"`
	MinSimilarity float64 `json:"min_similarity"`
	Limit         int     `json:"limit"`
}

// Engine runs hybrid searches. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	store    Store
	index    vectorindex.Index
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

func NewEngine(store Store, index vectorindex.Index, embedder Embedder, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, index: index, embedder: embedder, cfg: cfg.withDefaults(), logger: logger}
}

// entry accumulates both component scores of one result.
type entry struct {
	kind       Kind
	id         string
	documentID string
	chunkIndex int
	lexical    float64
	semantic   float64
	chunk      *storage.DocumentChunk
	doc        *storage.Document
	combined   float64
}

func (e *entry) key() string { return string(e.kind) + ":" + e.id }

// Search ranks documents and chunks by alpha*lexical + (1-alpha)*semantic.
// Document-level and chunk-level results are separate result spaces.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidLimit, req.Limit)
	}
	alpha := e.cfg.DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidAlpha, alpha)
	}
	minSim := e.cfg.DefaultMinSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}
	if math.IsNaN(minSim) || math.IsInf(minSim, 0) {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidMinSimilarity, minSim)
	}
	limit := min(req.Limit, e.cfg.MaxLimit)
	candidates := limit * e.cfg.CandidateFactor

	var (
		lexical  []storage.LexicalHit
		semantic []vectorindex.Match
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.store.TextSearch(gctx, query, storage.TextScope{VersionID: req.VersionID}, candidates)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexical = hits
		return nil
	})
	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrQueryEmbedding, err)
		}
		q := vectorindex.Query{Vector: vec, TopK: candidates}
		if req.VersionID != "" {
			q.Filter = vectorindex.Version(req.VersionID)
		}
		matches, err := e.index.Query(gctx, q)
		if err != nil {
			return fmt.Errorf("semantic search: %w", err)
		}
		semantic = matches
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := merge(lexical, semantic)
	if err := e.hydrate(ctx, entries); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(entries))
	for _, en := range entries {
		if en.doc == nil || (en.kind == KindChunk && en.chunk == nil) {
			continue // Deleted between retrieval and hydration.
		}
		en.combined = Combine(alpha, en.lexical, en.semantic)
		if en.combined < minSim {
			continue
		}
		items = append(items, e.toItem(en, query))
	}
	sortItems(items)
	if len(items) > limit {
		items = items[:limit]
	}

	e.logger.Debug("Hybrid search",
		"query", query, "version_id", req.VersionID, "alpha", alpha,
		"lexical", len(lexical), "semantic", len(semantic), "returned", len(items))
	return &Response{Items: items, Alpha: alpha, MinSimilarity: minSim, Limit: limit}, nil
}

// Combine is the blending law. It is non-decreasing in both scores for any
// alpha in [0,1].
func Combine(alpha, lexical, semantic float64) float64 {
	return alpha*lexical + (1-alpha)*semantic
}

// merge unions both lists. An id missing from one list scores 0 there.
func merge(lexical []storage.LexicalHit, semantic []vectorindex.Match) map[string]*entry {
	entries := make(map[string]*entry, len(lexical)+len(semantic))
	for _, h := range lexical {
		en := &entry{kind: h.Kind, id: h.ID, documentID: h.DocumentID, chunkIndex: h.ChunkIndex, lexical: h.Score}
		if prev, ok := entries[en.key()]; ok {
			prev.lexical = max(prev.lexical, h.Score)
			continue
		}
		entries[en.key()] = en
	}
	for _, m := range semantic {
		sim := max(0, min(1, m.Similarity()))
		key := string(KindChunk) + ":" + m.Chunk.ID
		if en, ok := entries[key]; ok {
			en.semantic = max(en.semantic, sim)
			en.chunk = m.Chunk
			continue
		}
		entries[key] = &entry{
			kind:       KindChunk,
			id:         m.Chunk.ID,
			documentID: m.Chunk.DocumentID,
			chunkIndex: m.Chunk.ChunkIndex,
			semantic:   sim,
			chunk:      m.Chunk,
		}
	}
	return entries
}

// hydrate loads the documents of every entry and the chunk text of chunk
// entries that came from the lexical list only.
func (e *Engine) hydrate(ctx context.Context, entries map[string]*entry) error {
	docIDs := make([]string, 0, len(entries))
	var chunkIDs []string
	seen := make(map[string]bool)
	for _, en := range entries {
		if !seen[en.documentID] {
			seen[en.documentID] = true
			docIDs = append(docIDs, en.documentID)
		}
		if en.kind == KindChunk && en.chunk == nil {
			chunkIDs = append(chunkIDs, en.id)
		}
	}

	docs, err := e.store.GetDocuments(ctx, docIDs)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	chunks, err := e.store.GetChunks(ctx, chunkIDs)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	for _, en := range entries {
		en.doc = docs[en.documentID]
		if en.chunk == nil {
			en.chunk = chunks[en.id]
		}
	}
	return nil
}

func (e *Engine) toItem(en *entry, query string) Item {
	item := Item{
		Kind:          en.kind,
		DocumentID:    en.documentID,
		VersionID:     en.doc.VersionID,
		Title:         en.doc.Title,
		Path:          en.doc.Path,
		Score:         en.combined,
		LexicalScore:  en.lexical,
		SemanticScore: en.semantic,
		UpdatedAt:     en.doc.UpdatedAt,
	}
	text := en.doc.Content
	if en.kind == KindChunk {
		idx := en.chunk.ChunkIndex
		item.ChunkID = en.id
		item.ChunkIndex = &idx
		text = en.chunk.Content
	}
	item.Snippet = Snippet(text, query, e.cfg.SnippetLength)
	return item
}

// sortItems orders by score desc, then most recent update, then identifier.
func sortItems(items []Item) {
	slices.SortFunc(items, func(a, b Item) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.identifier(), b.identifier())
	})
}

func (i Item) identifier() string {
	if i.Kind == KindChunk {
		return i.ChunkID
	}
	return i.DocumentID
}
