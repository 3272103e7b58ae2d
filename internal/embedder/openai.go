package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mediboard/rag/internal/keypool"
)

const (
	// DefaultOpenAIModel is the default OpenAI embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIDimension is the requested output dimensionality.
	// text-embedding-3 models natively support truncated dimensions.
	DefaultOpenAIDimension = 768

	// DefaultOpenAIBatchSize balances requests-per-minute against
	// tokens-per-minute rate limits.
	DefaultOpenAIBatchSize = 256
)

// OpenAIConfig holds configuration for the OpenAI embedder.
type OpenAIConfig struct {
	// Keys is the credential pool; requests rotate across it and fall
	// back linearly when a key is rejected or throttled out.
	Keys *keypool.Pool

	// Model is the embedding model (default: text-embedding-3-small).
	Model string

	// Dimension is the requested output dimensionality (default: 768).
	Dimension int

	// BatchSize is the maximum texts per embedding request.
	BatchSize int
}

// OpenAIEmbedder implements the Embedder interface against the OpenAI
// embeddings API. The document/query mode distinction is accepted and
// carried by the interface; OpenAI embeds both the same way.
type OpenAIEmbedder struct {
	keys      *keypool.Pool
	clients   map[string]openai.Client
	model     string
	dimension int
	batchSize int
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Keys == nil {
		return nil, fmt.Errorf("openai embedder: credential pool is required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = DefaultOpenAIDimension
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultOpenAIBatchSize
	}

	// Clients are built up front; the map is read-only afterwards so
	// concurrent batches never mutate shared state.
	clients := make(map[string]openai.Client, cfg.Keys.Len())
	for _, key := range cfg.Keys.Keys() {
		clients[key] = openai.NewClient(option.WithAPIKey(key))
	}

	e := &OpenAIEmbedder{
		keys:      cfg.Keys,
		clients:   clients,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}
	return e, nil
}

// EmbedDocuments generates embedding vectors for multiple texts.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

// EmbedQuery generates an embedding vector for a search query.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch embeds one batch, walking the credential pool once and
// retrying rate-limited keys with exponential backoff before moving on.
func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	err := e.keys.TryEach(func(key string) error {
		client := e.clients[key]

		operation := func() error {
			resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
				Input: openai.EmbeddingNewParamsInputUnion{
					OfArrayOfStrings: texts,
				},
				Model:      openai.EmbeddingModel(e.model),
				Dimensions: openai.Int(int64(e.dimension)),
			})
			if err != nil {
				if isRateLimitError(err) {
					return err // retried with backoff on the same key
				}
				return backoff.Permanent(err) // fall through to the next key
			}

			if len(resp.Data) != len(texts) {
				return backoff.Permanent(fmt.Errorf(
					"embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts)))
			}

			out := make([][]float32, len(resp.Data))
			for i, data := range resp.Data {
				if len(data.Embedding) != e.dimension {
					return backoff.Permanent(fmt.Errorf(
						"embedding dimension mismatch: got %d, expected %d", len(data.Embedding), e.dimension))
				}
				out[i] = toFloat32(data.Embedding)
			}
			vectors = out
			return nil
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = 30 * time.Second

		return backoff.Retry(operation, backoff.WithContext(b, ctx))
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
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

// Ensure OpenAIEmbedder implements Embedder interface.
var _ Embedder = (*OpenAIEmbedder)(nil)
