package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/docsearch-mcp/internal/storage"
)

// vectorName is the named vector holding chunk embeddings.
const vectorName = "content"

// qdrantTieWindow is how many points past TopK are fetched. Qdrant orders
// equal scores arbitrarily, so ties at the TopK boundary resolve by chunk id
// only when fewer than this many extra points share the boundary score.
const qdrantTieWindow = 16

var ErrQdrantUnreachable = errors.New("qdrant unreachable")

// QdrantConfig locates the collection.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
}

// QdrantIndex serves queries from a Qdrant collection and mirrors chunks into it.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

var (
	_ Index       = (*QdrantIndex)(nil)
	_ ChunkMirror = (*QdrantIndex)(nil)
)

// NewQdrantIndex connects over gRPC, retrying the health check with backoff,
// and makes sure the collection exists.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant dimension must be positive, got %d", cfg.Dimension)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	x := &QdrantIndex{client: client, collection: cfg.Collection, dimension: cfg.Dimension}
	if err := retry(ctx, func() error { return x.Health(ctx) }); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	if err := x.EnsureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return x, nil
}

func retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (x *QdrantIndex) Health(ctx context.Context) error {
	result, err := x.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance and payload
// indexes for every filterable key. Idempotent.
func (x *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(x.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	fields := map[Key]qdrant.FieldType{
		KeyVersionID:  qdrant.FieldType_FieldTypeKeyword,
		KeyDocumentID: qdrant.FieldType_FieldTypeKeyword,
		KeyPath:       qdrant.FieldType_FieldTypeKeyword,
		KeyTitle:      qdrant.FieldType_FieldTypeKeyword,
		KeyChunkIndex: qdrant.FieldType_FieldTypeInteger,
		KeyTokenCount: qdrant.FieldType_FieldTypeInteger,
	}
	for field, typ := range fields {
		_, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: x.collection,
			FieldName:      string(field),
			FieldType:      typ.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// Close closes the Qdrant client connection.
func (x *QdrantIndex) Close() error {
	if x.client != nil {
		return x.client.Close()
	}
	return nil
}

func (x *QdrantIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if len(q.Vector) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(q.Vector), x.dimension)
	}
	filter, err := ToQdrant(q.Filter)
	if err != nil {
		return nil, err
	}
	keep, err := Predicate(q.Filter)
	if err != nil {
		return nil, err
	}

	req := &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Using:          qdrant.PtrOf(vectorName),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(q.TopK + qdrantTieWindow)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if q.MaxDistance > 0 {
		// Qdrant's threshold is inclusive; the strict bound is re-checked below.
		req.ScoreThreshold = qdrant.PtrOf(float32(1 - q.MaxDistance))
	}
	results, err := x.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Chunk:    chunkFromPayload(r.Id.GetUuid(), r.Payload),
			Distance: 1 - float64(r.Score),
		})
	}
	// Payloads are re-checked against the filter so a point whose payload
	// drifted from its stored chunk never leaks into another scope.
	return q.rank(matches, keep), nil
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) *storage.DocumentChunk {
	ch := &storage.DocumentChunk{
		ID:         id,
		DocumentID: payload[string(KeyDocumentID)].GetStringValue(),
		ChunkIndex: int(payload[string(KeyChunkIndex)].GetIntegerValue()),
		Content:    payload["content"].GetStringValue(),
		TokenCount: int(payload[string(KeyTokenCount)].GetIntegerValue()),
	}
	ch.Metadata = storage.ChunkMetadata{
		VersionID:  payload[string(KeyVersionID)].GetStringValue(),
		DocumentID: ch.DocumentID,
		Title:      payload[string(KeyTitle)].GetStringValue(),
		Path:       payload[string(KeyPath)].GetStringValue(),
		HeaderPath: payload["header_path"].GetStringValue(),
	}
	return ch
}

// ReplaceDocumentChunks drops every point of the document and upserts the new
// chunks in batches of 100. Chunks without embeddings are not mirrored.
func (x *QdrantIndex) ReplaceDocumentChunks(ctx context.Context, doc *storage.Document, chunks []*storage.DocumentChunk) error {
	for i, ch := range chunks {
		if ch.Embedding != nil && len(ch.Embedding) != x.dimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(ch.Embedding), x.dimension)
		}
	}
	if err := x.DeleteDocumentChunks(ctx, doc.ID); err != nil {
		return err
	}

	var points []*qdrant.PointStruct
	for _, ch := range chunks {
		if ch.Embedding == nil {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(ch.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				vectorName: qdrant.NewVector(ch.Embedding...),
			}),
			Payload: qdrant.NewValueMap(map[string]any{
				string(KeyVersionID):  doc.VersionID,
				string(KeyDocumentID): doc.ID,
				string(KeyPath):       doc.Path,
				string(KeyTitle):      doc.Title,
				string(KeyChunkIndex): ch.ChunkIndex,
				string(KeyTokenCount): ch.TokenCount,
				"header_path":         ch.Metadata.HeaderPath,
				"content":             ch.Content,
			}),
		})
	}

	const batchSize = 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		batch := points[i:end]
		err := retry(ctx, func() error {
			_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: x.collection,
				Wait:           qdrant.PtrOf(true),
				Points:         batch,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// DeleteDocumentChunks removes every point belonging to a document.
func (x *QdrantIndex) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	err := retry(ctx, func() error {
		_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: x.collection,
			Wait:           qdrant.PtrOf(true),
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch(string(KeyDocumentID), documentID)},
			}),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	return nil
}

// DropCollection deletes the collection. Used by tests and full re-indexing.
func (x *QdrantIndex) DropCollection(ctx context.Context) error {
	if err := x.client.DeleteCollection(ctx, x.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}
