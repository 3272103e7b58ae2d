package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediboard/rag/internal/repository"
	"github.com/mediboard/rag/internal/vectorstore"
)

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*repository.Document
}

func newFakeDocRepo(docs ...*repository.Document) *fakeDocRepo {
	r := &fakeDocRepo{docs: make(map[uuid.UUID]*repository.Document)}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *fakeDocRepo) Create(ctx context.Context, doc *repository.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *fakeDocRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeDocRepo) UpdateIngestStatus(ctx context.Context, id uuid.UUID, status repository.IngestStatus, ingested, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	doc.IngestStatus = status
	doc.IngestedParents = ingested
	doc.TotalParents = total
	return nil
}

func (r *fakeDocRepo) ListPending(ctx context.Context, limit int) ([]*repository.Document, error) {
	return nil, nil
}

func (r *fakeDocRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

type fakeChunkRepo struct {
	mu      sync.Mutex
	parents map[uuid.UUID]*repository.ParentChunk
	links   []*repository.ChildChunkLink
}

func newFakeChunkRepo() *fakeChunkRepo {
	return &fakeChunkRepo{parents: make(map[uuid.UUID]*repository.ParentChunk)}
}

func (r *fakeChunkRepo) CreateParent(ctx context.Context, parent *repository.ParentChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *parent
	r.parents[parent.ID] = &cp
	return nil
}

func (r *fakeChunkRepo) MarkParentActive(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.parents[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.State = repository.ParentActive
	return nil
}

func (r *fakeChunkRepo) CreateLinks(ctx context.Context, links []*repository.ChildChunkLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, links...)
	return nil
}

func (r *fakeChunkRepo) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.parents {
		if p.DocumentID == documentID {
			delete(r.parents, id)
		}
	}
	kept := r.links[:0]
	for _, l := range r.links {
		if l.DocumentID != documentID {
			kept = append(kept, l)
		}
	}
	r.links = kept
	return nil
}

func (r *fakeChunkRepo) GetParentsByIDs(ctx context.Context, ids []uuid.UUID) ([]*repository.ParentChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.ParentChunk
	for _, id := range ids {
		if p, ok := r.parents[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeChunkRepo) ListVectorKeys(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, l := range r.links {
		if l.DocumentID == documentID {
			keys = append(keys, l.VectorKey)
		}
	}
	return keys, nil
}

func (r *fakeChunkRepo) activeParents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.parents {
		if p.State == repository.ParentActive {
			n++
		}
	}
	return n
}

type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	failIf  func(texts []string) bool
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, texts)
	e.mu.Unlock()
	if e.failIf != nil && e.failIf(texts) {
		return nil, errors.New("embedding backend unavailable")
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(len(texts[i])), 0, 0}
	}
	return vecs, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 0, 0}, nil
}

func (e *fakeEmbedder) Dimension() int    { return 3 }
func (e *fakeEmbedder) ModelName() string { return "fake" }

type fakeVectorStore struct {
	mu      sync.Mutex
	entries map[string]vectorstore.Entry
	deleted []string
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{entries: make(map[string]vectorstore.Entry)}
}

func (s *fakeVectorStore) EnsureCollection(ctx context.Context, dimension int) error { return nil }

func (s *fakeVectorStore) Upsert(ctx context.Context, entries []vectorstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.Key] = e
	}
	return nil
}

func (s *fakeVectorStore) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (s *fakeVectorStore) DeleteByKeys(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
		s.deleted = append(s.deleted, k)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func twoSectionDoc() *repository.Document {
	return &repository.Document{
		ID:           uuid.New(),
		Title:        "Insulin Protocol",
		Content:      "# A\n" + strings.Repeat("x", 50) + "\n# B\n" + strings.Repeat("y", 50),
		IngestStatus: repository.IngestNotStarted,
	}
}

func TestIngest_TwoParents(t *testing.T) {
	doc := twoSectionDoc()
	docs := newFakeDocRepo(doc)
	chunks := newFakeChunkRepo()
	emb := &fakeEmbedder{}
	vecs := newFakeVectorStore()

	ing := NewIngestor(docs, chunks, emb, vecs, testLogger(), WithParentMaxLen(100))
	err := ing.Ingest(context.Background(), doc.ID, Scope{Category: vectorstore.CategoryDisease})
	require.NoError(t, err)

	got, err := docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.IngestComplete, got.IngestStatus)
	assert.Equal(t, 2, got.IngestedParents)
	assert.Equal(t, 2, got.TotalParents)

	assert.Equal(t, 2, chunks.activeParents())
	require.Len(t, chunks.links, 2)

	indexes := []int{chunks.links[0].ChunkIndex, chunks.links[1].ChunkIndex}
	assert.ElementsMatch(t, []int{0, repository.ChildIndexStride}, indexes)

	for _, l := range chunks.links {
		entry, ok := vecs.entries[l.VectorKey]
		require.True(t, ok, "link %s has no vector entry", l.VectorKey)
		assert.Equal(t, l.Content, entry.Metadata.Text)
		assert.Equal(t, l.ParentChunkID, entry.Metadata.ParentChunkID)
		assert.Equal(t, doc.ID, entry.Metadata.DocumentID)
		assert.Equal(t, vectorstore.CategoryDisease, entry.Metadata.Category)
		assert.False(t, entry.Metadata.PatientOwned)
	}
}

func TestIngest_SkipsCompletedDocument(t *testing.T) {
	doc := twoSectionDoc()
	doc.IngestStatus = repository.IngestComplete
	docs := newFakeDocRepo(doc)
	chunks := newFakeChunkRepo()
	emb := &fakeEmbedder{}

	ing := NewIngestor(docs, chunks, emb, newFakeVectorStore(), testLogger())
	require.NoError(t, ing.Ingest(context.Background(), doc.ID, Scope{}))

	assert.Empty(t, emb.batches, "completed document must not re-embed")
	assert.Empty(t, chunks.links)
}

func TestIngest_ReplacesPreviousRun(t *testing.T) {
	doc := twoSectionDoc()
	doc.IngestStatus = repository.IngestPartial
	docs := newFakeDocRepo(doc)
	chunks := newFakeChunkRepo()
	vecs := newFakeVectorStore()

	// Leftovers from a failed earlier run.
	staleParent := &repository.ParentChunk{ID: uuid.New(), DocumentID: doc.ID, State: repository.ParentPending}
	require.NoError(t, chunks.CreateParent(context.Background(), staleParent))
	staleKey := vectorstore.Key(doc.ID, 0, 0)
	require.NoError(t, chunks.CreateLinks(context.Background(), []*repository.ChildChunkLink{{
		ID: uuid.New(), ParentChunkID: staleParent.ID, DocumentID: doc.ID, VectorKey: staleKey,
	}}))
	require.NoError(t, vecs.Upsert(context.Background(), []vectorstore.Entry{{Key: staleKey, Vector: []float32{1, 2, 3}}}))

	ing := NewIngestor(docs, chunks, &fakeEmbedder{}, vecs, testLogger(), WithParentMaxLen(100))
	require.NoError(t, ing.Ingest(context.Background(), doc.ID, Scope{}))

	assert.Contains(t, vecs.deleted, staleKey)
	assert.Equal(t, 2, chunks.activeParents(), "stale parent must be replaced, not kept")
	assert.Len(t, chunks.links, 2)
}

func TestIngest_PartialOnParentFailure(t *testing.T) {
	doc := twoSectionDoc()
	docs := newFakeDocRepo(doc)
	chunks := newFakeChunkRepo()
	emb := &fakeEmbedder{failIf: func(texts []string) bool {
		return strings.Contains(texts[0], "y") // second section only
	}}

	ing := NewIngestor(docs, chunks, emb, newFakeVectorStore(), testLogger(), WithParentMaxLen(100))
	err := ing.Ingest(context.Background(), doc.ID, Scope{})
	require.Error(t, err)

	got, err := docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.IngestPartial, got.IngestStatus)
	assert.Equal(t, 1, got.IngestedParents)
	assert.Equal(t, 2, got.TotalParents)

	// The surviving section stays searchable.
	assert.Equal(t, 1, chunks.activeParents())
	require.Len(t, chunks.links, 1)
	assert.Contains(t, chunks.links[0].Content, "x")
}

func TestIngest_WarmupBatchIsFirst(t *testing.T) {
	doc := twoSectionDoc()
	docs := newFakeDocRepo(doc)
	emb := &fakeEmbedder{}

	ing := NewIngestor(docs, newFakeChunkRepo(), emb, newFakeVectorStore(), testLogger(), WithParentMaxLen(100))
	require.NoError(t, ing.Ingest(context.Background(), doc.ID, Scope{}))

	require.NotEmpty(t, emb.batches)
	assert.Contains(t, emb.batches[0][0], "# A", "first embedding batch must come from the first parent")
}

func TestIngest_EmptyDocument(t *testing.T) {
	doc := &repository.Document{ID: uuid.New(), Title: "empty", Content: ""}
	docs := newFakeDocRepo(doc)

	ing := NewIngestor(docs, newFakeChunkRepo(), &fakeEmbedder{}, newFakeVectorStore(), testLogger())
	require.NoError(t, ing.Ingest(context.Background(), doc.ID, Scope{}))

	got, err := docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.IngestComplete, got.IngestStatus)
	assert.Equal(t, 0, got.TotalParents)
}

func TestIngest_PatientScope(t *testing.T) {
	doc := twoSectionDoc()
	docs := newFakeDocRepo(doc)
	vecs := newFakeVectorStore()

	ing := NewIngestor(docs, newFakeChunkRepo(), &fakeEmbedder{}, vecs, testLogger(), WithParentMaxLen(100))
	require.NoError(t, ing.Ingest(context.Background(), doc.ID, Scope{Category: vectorstore.CategoryGeneral, PatientID: "p-77"}))

	for _, e := range vecs.entries {
		assert.True(t, e.Metadata.PatientOwned)
		assert.Equal(t, "p-77", e.Metadata.PatientID)
	}
}

func TestDeleteVectors(t *testing.T) {
	doc := twoSectionDoc()
	docs := newFakeDocRepo(doc)
	chunks := newFakeChunkRepo()
	vecs := newFakeVectorStore()

	ing := NewIngestor(docs, chunks, &fakeEmbedder{}, vecs, testLogger(), WithParentMaxLen(100))
	require.NoError(t, ing.Ingest(context.Background(), doc.ID, Scope{}))
	require.NotEmpty(t, vecs.entries)

	require.NoError(t, ing.DeleteVectors(context.Background(), doc.ID))

	assert.Empty(t, vecs.entries)
	assert.Empty(t, chunks.links)
	got, err := docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.IngestNotStarted, got.IngestStatus)
	assert.Equal(t, 0, got.TotalParents)
}
