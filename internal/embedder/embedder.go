// Package embedder provides interfaces and implementations for text embedding.
package embedder

import "context"

// Embedder defines the interface for text embedding services.
//
// Document-mode and query-mode embedding are distinct operations: some
// providers optimize the two differently, so the distinction must reach
// the provider even when a given backend treats them the same.
type Embedder interface {
	// EmbedDocuments generates one vector per input text in document mode.
	// The result has the same length and order as texts; a provider that
	// cannot honor that must return an error, never a partial result.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates a vector for a search query in query mode.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed dimensionality of returned vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}
