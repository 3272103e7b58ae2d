// Package reranker provides cross-encoder style re-scoring of retrieved
// passages.
//
// The retrieval engine ranks parent chunks by fused vector similarity, which
// scores query and passage independently. Reranking shows the model both at
// once, which is slower (one extra LLM call per query) but noticeably more
// precise when the fused scores are close together. It is optional: callers
// fall back to the fused ordering when reranking fails or is disabled.
package reranker

import (
	"context"
)

// RankedDocument is one reranked passage. Index refers to the position of the
// passage in the input slice passed to Rerank.
type RankedDocument struct {
	Index          int
	RelevanceScore float32
}

// Reranker defines the interface for re-ranking retrieved passages.
type Reranker interface {
	// Rerank scores each document's relevance to the query and returns the
	// documents re-ordered by descending relevance, limited to topK.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RankedDocument, error)
}
