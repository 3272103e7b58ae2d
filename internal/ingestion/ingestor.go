// Package ingestion orchestrates the chunk-embed-persist pipeline that turns
// a stored document into searchable parent and child chunks.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mediboard/rag/internal/embedder"
	"github.com/mediboard/rag/internal/repository"
	"github.com/mediboard/rag/internal/splitter"
	"github.com/mediboard/rag/internal/vectorstore"
)

const (
	// DefaultParentMaxLen is the maximum parent chunk length in runes.
	DefaultParentMaxLen = 1500

	// DefaultChildChunkSize is the fixed child fragment length in runes.
	DefaultChildChunkSize = 201
)

// Scope carries the search-scoping attributes stamped onto every vector a
// run produces. A non-empty PatientID marks the document patient-owned,
// which keeps it out of general searches.
type Scope struct {
	Category  vectorstore.Category
	PatientID string
}

// Ingestor runs the full ingestion pipeline for one document at a time per
// document id. Distinct documents ingest concurrently.
type Ingestor struct {
	docs    repository.DocumentRepository
	chunks  repository.ChunkRepository
	emb     embedder.Embedder
	vectors vectorstore.VectorStore
	locks   *docLocker
	logger  *slog.Logger

	parentMaxLen int
	childSize    int
}

// Option is a functional option for configuring an Ingestor.
type Option func(*Ingestor)

// WithParentMaxLen overrides the maximum parent chunk length in runes.
func WithParentMaxLen(n int) Option {
	return func(i *Ingestor) {
		i.parentMaxLen = n
	}
}

// WithChildChunkSize overrides the child fragment length in runes.
func WithChildChunkSize(n int) Option {
	return func(i *Ingestor) {
		i.childSize = n
	}
}

// NewIngestor creates an Ingestor wired to the given stores and embedder.
func NewIngestor(docs repository.DocumentRepository, chunks repository.ChunkRepository, emb embedder.Embedder, vectors vectorstore.VectorStore, logger *slog.Logger, opts ...Option) *Ingestor {
	ing := &Ingestor{
		docs:         docs,
		chunks:       chunks,
		emb:          emb,
		vectors:      vectors,
		locks:        newDocLocker(),
		logger:       logger,
		parentMaxLen: DefaultParentMaxLen,
		childSize:    DefaultChildChunkSize,
	}

	for _, opt := range opts {
		opt(ing)
	}

	return ing
}

// Ingest chunks, embeds, and persists the document. It replaces any chunks
// and vectors from an earlier run, so retrying a partial ingestion is safe.
// A document already marked complete is skipped. Parent chunks fail
// independently: the run records a PARTIAL status when some of them fail and
// returns an error, leaving the successful parents searchable.
func (i *Ingestor) Ingest(ctx context.Context, documentID uuid.UUID, scope Scope) error {
	unlock := i.locks.lock(documentID)
	defer unlock()

	doc, err := i.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}

	if doc.IsIngested() {
		i.logger.Info("document already ingested, skipping", "document_id", documentID)
		return nil
	}

	parents := splitter.SplitByHeadings(doc.Content, i.parentMaxLen)
	if len(parents) == 0 {
		i.logger.Info("document has no content to ingest", "document_id", documentID)
		return i.docs.UpdateIngestStatus(ctx, documentID, repository.IngestComplete, 0, 0)
	}

	if err := i.clearPrevious(ctx, documentID); err != nil {
		return fmt.Errorf("clearing previous ingestion for %s: %w", documentID, err)
	}

	// The first parent runs alone: systemic failures (bad credentials,
	// missing collection) surface on one cheap call before the fan-out.
	var succeeded atomic.Int64
	if err := i.processParent(ctx, doc, 0, parents[0], scope); err != nil {
		i.logger.Error("parent chunk ingestion failed",
			"document_id", documentID, "parent_index", 0, "error", err)
	} else {
		succeeded.Add(1)
	}

	var wg sync.WaitGroup
	for idx := 1; idx < len(parents); idx++ {
		wg.Add(1)
		go func(idx int, content string) {
			defer wg.Done()
			if err := i.processParent(ctx, doc, idx, content, scope); err != nil {
				i.logger.Error("parent chunk ingestion failed",
					"document_id", documentID, "parent_index", idx, "error", err)
				return
			}
			succeeded.Add(1)
		}(idx, parents[idx])
	}
	wg.Wait()

	done := int(succeeded.Load())
	status := repository.IngestComplete
	if done < len(parents) {
		status = repository.IngestPartial
	}

	if err := i.docs.UpdateIngestStatus(ctx, documentID, status, done, len(parents)); err != nil {
		return fmt.Errorf("recording ingest status for %s: %w", documentID, err)
	}

	i.logger.Info("document ingestion finished",
		"document_id", documentID, "status", status,
		"ingested_parents", done, "total_parents", len(parents))

	if status == repository.IngestPartial {
		return fmt.Errorf("ingested %d of %d parent chunks for document %s", done, len(parents), documentID)
	}
	return nil
}

// DeleteVectors removes every vector and chunk row for a document and resets
// its ingestion status, typically ahead of deleting the document itself.
func (i *Ingestor) DeleteVectors(ctx context.Context, documentID uuid.UUID) error {
	unlock := i.locks.lock(documentID)
	defer unlock()

	if err := i.clearPrevious(ctx, documentID); err != nil {
		return fmt.Errorf("deleting vectors for %s: %w", documentID, err)
	}

	return i.docs.UpdateIngestStatus(ctx, documentID, repository.IngestNotStarted, 0, 0)
}

// clearPrevious drops a document's vectors before its chunk rows, so a crash
// in between leaves orphaned rows rather than orphaned vectors.
func (i *Ingestor) clearPrevious(ctx context.Context, documentID uuid.UUID) error {
	keys, err := i.chunks.ListVectorKeys(ctx, documentID)
	if err != nil {
		return fmt.Errorf("listing vector keys: %w", err)
	}
	if len(keys) > 0 {
		if err := i.vectors.DeleteByKeys(ctx, keys); err != nil {
			return fmt.Errorf("deleting vectors: %w", err)
		}
	}
	if err := i.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("deleting chunk rows: %w", err)
	}
	return nil
}

// processParent persists one parent chunk and its embedded children. The
// parent row is written first in pending state and flipped to active only
// after its vectors and link rows are durable.
func (i *Ingestor) processParent(ctx context.Context, doc *repository.Document, parentIndex int, content string, scope Scope) error {
	parent := &repository.ParentChunk{
		ID:          uuid.New(),
		DocumentID:  doc.ID,
		ParentIndex: parentIndex,
		Content:     content,
		State:       repository.ParentPending,
	}
	if err := i.chunks.CreateParent(ctx, parent); err != nil {
		return fmt.Errorf("creating parent chunk: %w", err)
	}

	children := splitter.SegmentFixed(content, i.childSize)
	if len(children) == 0 {
		i.logger.Warn("parent chunk produced no child fragments",
			"document_id", doc.ID, "parent_index", parentIndex)
		return i.chunks.MarkParentActive(ctx, parent.ID)
	}

	vecs, err := i.emb.EmbedDocuments(ctx, children)
	if err != nil {
		return fmt.Errorf("embedding %d child fragments: %w", len(children), err)
	}
	if len(vecs) != len(children) {
		return fmt.Errorf("embedder returned %d vectors for %d fragments", len(vecs), len(children))
	}

	entries := make([]vectorstore.Entry, len(children))
	links := make([]*repository.ChildChunkLink, len(children))
	for c, text := range children {
		key := vectorstore.Key(doc.ID, parentIndex, c)
		entries[c] = vectorstore.Entry{
			Key:    key,
			Vector: vecs[c],
			Metadata: vectorstore.Metadata{
				DocumentID:    doc.ID,
				DocumentTitle: doc.Title,
				ParentChunkID: parent.ID,
				Text:          text,
				ParentIndex:   parentIndex,
				ChildIndex:    c,
				Category:      scope.Category,
				PatientOwned:  scope.PatientID != "",
				PatientID:     scope.PatientID,
			},
		}
		links[c] = &repository.ChildChunkLink{
			ID:            uuid.New(),
			ParentChunkID: parent.ID,
			DocumentID:    doc.ID,
			ChunkIndex:    parentIndex*repository.ChildIndexStride + c,
			Content:       text,
			VectorKey:     key,
		}
	}

	if err := i.vectors.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("upserting %d vectors: %w", len(entries), err)
	}
	if err := i.chunks.CreateLinks(ctx, links); err != nil {
		return fmt.Errorf("creating child chunk links: %w", err)
	}
	if err := i.chunks.MarkParentActive(ctx, parent.ID); err != nil {
		return fmt.Errorf("activating parent chunk: %w", err)
	}

	return nil
}
