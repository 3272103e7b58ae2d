// Package retrieval implements parent-level semantic search over the child
// vector index using reciprocal-rank fusion.
package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mediboard/rag/internal/embedder"
	"github.com/mediboard/rag/internal/repository"
	"github.com/mediboard/rag/internal/reranker"
	"github.com/mediboard/rag/internal/vectorstore"
)

const (
	// defaultTopK is the child-hit budget when the caller passes none.
	defaultTopK = 50

	// rrfK dampens the rank contribution in reciprocal-rank fusion.
	rrfK = 60

	// maxParents caps how many parent chunks a search returns.
	maxParents = 10

	// tieEpsilon is the fused-score distance under which two parents are
	// considered tied and ordered by their best raw child score instead.
	tieEpsilon = 0.001
)

// ParentResult is one retrieved parent chunk with its relevance score. The
// score is the fused rank score, or the reranker's relevance when reranking
// ran.
type ParentResult struct {
	ParentChunkID uuid.UUID
	Text          string
	DocumentID    uuid.UUID
	DocumentTitle string
	Score         float32
}

// Engine fuses child-level vector hits into ranked parent chunks.
type Engine struct {
	emb     embedder.Embedder
	vectors vectorstore.VectorStore
	chunks  repository.ChunkRepository
	rr      reranker.Reranker // nil disables reranking
	logger  *slog.Logger
}

// NewEngine creates a retrieval engine. Pass a nil reranker to disable the
// reranking stage.
func NewEngine(emb embedder.Embedder, vectors vectorstore.VectorStore, chunks repository.ChunkRepository, rr reranker.Reranker, logger *slog.Logger) *Engine {
	return &Engine{emb: emb, vectors: vectors, chunks: chunks, rr: rr, logger: logger}
}

// parentCandidate accumulates fusion state for one parent chunk.
type parentCandidate struct {
	id       uuid.UUID
	docTitle string
	fused    float64
	maxRaw   float32
}

// Search embeds the query, fetches the topK nearest child fragments in the
// given categories, fuses them into parent rankings, and returns up to ten
// deduplicated parent chunks best-first. Patient-owned vectors are always
// excluded. Failures degrade to an empty result and are logged, never
// surfaced to the caller.
func (e *Engine) Search(ctx context.Context, query string, topK int, categories []vectorstore.Category) []ParentResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	vec, err := e.emb.EmbedQuery(ctx, query)
	if err != nil {
		e.logger.Error("query embedding failed", "error", err)
		return nil
	}

	hits, err := e.vectors.Query(ctx, vec, topK, vectorstore.Filter{
		Categories:         categories,
		ExcludePatientData: true,
	})
	if err != nil {
		e.logger.Error("vector query failed", "error", err)
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	ranked := fuse(hits)
	if len(ranked) > maxParents {
		ranked = ranked[:maxParents]
	}

	ids := make([]uuid.UUID, len(ranked))
	for i, c := range ranked {
		ids[i] = c.id
	}
	parents, err := e.chunks.GetParentsByIDs(ctx, ids)
	if err != nil {
		e.logger.Error("loading parent chunks failed", "error", err)
		return nil
	}
	byID := make(map[uuid.UUID]*repository.ParentChunk, len(parents))
	for _, p := range parents {
		byID[p.ID] = p
	}

	// Assemble in fused order, dropping parents whose rows vanished and
	// exact-text duplicates. First occurrence has the best fused score.
	seen := make(map[string]struct{}, len(ranked))
	results := make([]ParentResult, 0, len(ranked))
	for _, c := range ranked {
		parent, ok := byID[c.id]
		if !ok {
			e.logger.Warn("vector hit references missing parent chunk", "parent_chunk_id", c.id)
			continue
		}
		if _, dup := seen[parent.Content]; dup {
			continue
		}
		seen[parent.Content] = struct{}{}
		results = append(results, ParentResult{
			ParentChunkID: parent.ID,
			Text:          parent.Content,
			DocumentID:    parent.DocumentID,
			DocumentTitle: c.docTitle,
			Score:         float32(c.fused),
		})
	}

	return e.rerank(ctx, query, results)
}

// fuse aggregates child hits into parent candidates via reciprocal-rank
// fusion and returns them best-first. A hit at zero-based rank i contributes
// 1/(i+rrfK) to its parent's fused score.
func fuse(hits []vectorstore.Hit) []*parentCandidate {
	order := make([]*parentCandidate, 0, len(hits))
	byParent := make(map[uuid.UUID]*parentCandidate, len(hits))

	for i, hit := range hits {
		pid := hit.Metadata.ParentChunkID
		if pid == uuid.Nil {
			continue
		}
		c, ok := byParent[pid]
		if !ok {
			c = &parentCandidate{
				id:       pid,
				docTitle: hit.Metadata.DocumentTitle,
			}
			byParent[pid] = c
			order = append(order, c)
		}
		c.fused += 1 / float64(i+rrfK)
		if hit.Score > c.maxRaw {
			c.maxRaw = hit.Score
		}
	}

	sort.SliceStable(order, func(a, b int) bool {
		if math.Abs(order[a].fused-order[b].fused) < tieEpsilon {
			return order[a].maxRaw > order[b].maxRaw
		}
		return order[a].fused > order[b].fused
	})

	return order
}

// rerank re-scores the candidates with the configured reranker. Any failure
// or empty answer keeps the fused ordering untouched.
func (e *Engine) rerank(ctx context.Context, query string, results []ParentResult) []ParentResult {
	if e.rr == nil || len(results) == 0 {
		return results
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}

	ranked, err := e.rr.Rerank(ctx, query, texts, len(texts))
	if err != nil {
		e.logger.Warn("reranking failed, keeping fused order", "error", err)
		return results
	}
	if len(ranked) == 0 {
		return results
	}

	out := make([]ParentResult, 0, len(ranked))
	for _, rd := range ranked {
		if rd.Index < 0 || rd.Index >= len(results) {
			continue
		}
		r := results[rd.Index]
		r.Score = rd.RelevanceScore
		out = append(out, r)
	}
	if len(out) == 0 {
		return results
	}
	return out
}
