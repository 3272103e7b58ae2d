package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mediboard/rag/internal/repository"
)

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create creates a new document
func (r *DocumentRepo) Create(ctx context.Context, doc *repository.Document) error {
	query := `
		INSERT INTO documents (id, title, content, ingest_status, ingested_parents, total_parents, category, patient_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Title, doc.Content, doc.IngestStatus,
		doc.IngestedParents, doc.TotalParents, doc.Category, doc.PatientID,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	query := `
		SELECT id, title, content, ingest_status, ingested_parents, total_parents, category, patient_id, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var doc repository.Document
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Title, &doc.Content, &doc.IngestStatus,
		&doc.IngestedParents, &doc.TotalParents, &doc.Category, &doc.PatientID,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// UpdateIngestStatus records the outcome of an ingestion run
func (r *DocumentRepo) UpdateIngestStatus(ctx context.Context, id uuid.UUID, status repository.IngestStatus, ingested, total int) error {
	query := `
		UPDATE documents
		SET ingest_status = $2, ingested_parents = $3, total_parents = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id, status, ingested, total)
	if err != nil {
		return fmt.Errorf("failed to update ingest status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListPending returns documents whose ingestion has not completed
func (r *DocumentRepo) ListPending(ctx context.Context, limit int) ([]*repository.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, title, content, ingest_status, ingested_parents, total_parents, category, patient_id, created_at, updated_at
		FROM documents
		WHERE ingest_status <> $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, repository.IngestComplete, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var doc repository.Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.IngestStatus,
			&doc.IngestedParents, &doc.TotalParents, &doc.Category, &doc.PatientID,
			&doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Delete deletes a document; parent chunks and links cascade via FK
func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure DocumentRepo implements the interface
var _ repository.DocumentRepository = (*DocumentRepo)(nil)
