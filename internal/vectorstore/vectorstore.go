// Package vectorstore provides the child-vector index: typed entry and
// filter models plus a Qdrant-backed implementation.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Category is the topical tag carried in vector metadata and used for
// retrieval-time filtering.
type Category string

const (
	CategoryMedicine Category = "medicine"
	CategoryDisease  Category = "disease"
	CategoryGeneral  Category = "general"
)

// Key builds the deterministic vector-index key for a child chunk.
// Re-ingesting identical content overwrites the same points instead of
// accumulating duplicates.
func Key(documentID uuid.UUID, parentIndex, childIndex int) string {
	return fmt.Sprintf("%s_parent%d_child%d", documentID, parentIndex, childIndex)
}

// Metadata is the strongly-typed payload attached to every vector entry.
// It carries a reference to the parent chunk, never the parent text; the
// relational store is the source of truth for that.
type Metadata struct {
	DocumentID    uuid.UUID
	DocumentTitle string
	ParentChunkID uuid.UUID
	Text          string // child fragment text, denormalized for display
	ParentIndex   int
	ChildIndex    int
	Category      Category
	PatientOwned  bool
	PatientID     string
}

// Entry is a child-chunk vector with its metadata, keyed by the
// deterministic key from Key.
type Entry struct {
	Key      string
	Vector   []float32
	Metadata Metadata
}

// Hit is a ranked similarity-search result.
type Hit struct {
	Key      string
	Score    float32
	Metadata Metadata
}

// Filter restricts a similarity query. ExcludePatientData removes all
// patient-owned entries regardless of the category selection; PatientID
// instead narrows the query to one patient's entries.
type Filter struct {
	Categories         []Category
	ExcludePatientData bool
	PatientID          string
}

// VectorStore defines the interface for the child-vector index.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts or overwrites entries by key.
	Upsert(ctx context.Context, entries []Entry) error

	// Query returns the topK nearest entries matching the filter, ranked
	// best-first, with metadata.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error)

	// DeleteByKeys removes entries by their deterministic keys.
	DeleteByKeys(ctx context.Context, keys []string) error
}
