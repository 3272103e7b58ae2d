// Package repository defines domain models and data access interfaces for
// documents and their two-level chunk hierarchy.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// IngestStatus describes how far a document's ingestion has progressed.
type IngestStatus string

const (
	// IngestNotStarted means no chunk generation exists for the document.
	IngestNotStarted IngestStatus = "NOT_STARTED"
	// IngestPartial means the last run finished but one or more parent
	// chunks failed to embed or persist.
	IngestPartial IngestStatus = "PARTIAL"
	// IngestComplete means every parent chunk of the last run succeeded.
	IngestComplete IngestStatus = "COMPLETE"
)

// ParentState marks whether a parent chunk's vectors and link rows are
// fully durable. A row stuck in pending indicates a crashed run.
type ParentState string

const (
	ParentPending ParentState = "pending"
	ParentActive  ParentState = "active"
)

// Document is a unit of ingested content. Content is the extracted text;
// the host application creates the row only after extraction succeeds.
type Document struct {
	ID              uuid.UUID
	Title           string
	Content         string
	IngestStatus    IngestStatus
	IngestedParents int
	TotalParents    int
	Category        string // topical tag carried into vector metadata
	PatientID       string // non-empty for patient-scoped documents
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsIngested reports the legacy boolean ingestion flag. Partial runs do
// not count, so a retry will re-ingest them.
func (d *Document) IsIngested() bool {
	return d.IngestStatus == IngestComplete
}

// ParentChunk is one header-delimited segment of a document. It holds the
// authoritative copy of the segment text; the vector index stores only a
// reference to it.
type ParentChunk struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	ParentIndex int
	Content     string
	State       ParentState
	CreatedAt   time.Time
}

// ChildChunkLink joins a small embedded fragment to its parent chunk and
// its vector-index entry. The fragment text is duplicated here for
// debugging and analytics only.
type ChildChunkLink struct {
	ID            uuid.UUID
	ParentChunkID uuid.UUID
	DocumentID    uuid.UUID
	ChunkIndex    int // parentIndex*ChildIndexStride + childIndex
	Content       string
	VectorKey     string
	CreatedAt     time.Time
}

// ChildIndexStride keeps ChildChunkLink.ChunkIndex ordered across parents.
const ChildIndexStride = 10000

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	// UpdateIngestStatus records the outcome of an ingestion run.
	UpdateIngestStatus(ctx context.Context, id uuid.UUID, status IngestStatus, ingested, total int) error
	// ListPending returns documents whose ingestion has not completed.
	ListPending(ctx context.Context, limit int) ([]*Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ChunkRepository defines operations over parent chunks and child chunk
// links, keyed by document id and by id-sets.
type ChunkRepository interface {
	CreateParent(ctx context.Context, parent *ParentChunk) error
	MarkParentActive(ctx context.Context, id uuid.UUID) error
	CreateLinks(ctx context.Context, links []*ChildChunkLink) error
	// DeleteByDocument removes all parent chunks for a document; link rows
	// cascade with their parents.
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
	// GetParentsByIDs fetches parent chunks for a set of ids in one query.
	GetParentsByIDs(ctx context.Context, ids []uuid.UUID) ([]*ParentChunk, error)
	// ListVectorKeys returns every vector-index key persisted for a document.
	ListVectorKeys(ctx context.Context, documentID uuid.UUID) ([]string, error)
}
