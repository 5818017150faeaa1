package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the OpenAI embedding model.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector size produced by DefaultModel.
	DefaultDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	DefaultBatchSize = 100

	// DefaultTimeout bounds a single batch including retries.
	DefaultTimeout = 30 * time.Second
)

// ErrEmbeddingFailed is returned for every failed embedding call. A failed
// call never yields a zero vector.
var ErrEmbeddingFailed = errors.New("embedding failed")

// Service turns text into fixed-length vectors.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes an Embedder. Zero values select defaults.
type Options struct {
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// Embedder generates embeddings with the OpenAI embeddings API.
// It batches requests and retries rate-limited calls with exponential backoff.
type Embedder struct {
	client    *Client
	model     string
	batchSize int
	timeout   time.Duration
}

var _ Service = (*Embedder)(nil)

// NewEmbedder creates an Embedder.
func NewEmbedder(client *Client, opts Options) *Embedder {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Embedder{
		client:    client,
		model:     opts.Model,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
	}
}

// Embed embeds a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in order, splitting them into API-sized batches.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		vectors, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %w", ErrEmbeddingFailed, i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

// embedBatchWithRetry retries HTTP 429 responses; other errors are permanent.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var vectors [][]float32
	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out, err := orderVectors(resp.Data, len(texts))
		if err != nil {
			return backoff.Permanent(err)
		}
		vectors = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = e.timeout

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return vectors, err
}

// orderVectors places each returned embedding at its input index and rejects
// incomplete responses.
func orderVectors(data []openai.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(data))
	}
	out := make([][]float32, want)
	for _, d := range data {
		idx := int(d.Index)
		if idx < 0 || idx >= want || out[idx] != nil {
			return nil, fmt.Errorf("unexpected embedding index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", d.Index)
		}
		out[idx] = toFloat32(d.Embedding)
	}
	return out, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
