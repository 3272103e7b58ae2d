package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mediboard/rag/internal/repository"
)

// ChunkRepo implements repository.ChunkRepository
type ChunkRepo struct {
	db *DB
}

// NewChunkRepo creates a new chunk repository
func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// CreateParent inserts a parent chunk row
func (r *ChunkRepo) CreateParent(ctx context.Context, parent *repository.ParentChunk) error {
	query := `
		INSERT INTO parent_chunks (id, document_id, parent_index, content, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		parent.ID, parent.DocumentID, parent.ParentIndex, parent.Content, parent.State, parent.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create parent chunk: %w", err)
	}
	return nil
}

// MarkParentActive flips a parent chunk out of the pending state once its
// vector batch and link rows are durable
func (r *ChunkRepo) MarkParentActive(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE parent_chunks SET state = $2 WHERE id = $1`, id, repository.ParentActive)
	if err != nil {
		return fmt.Errorf("failed to mark parent chunk active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateLinks inserts child chunk links in one batch
func (r *ChunkRepo) CreateLinks(ctx context.Context, links []*repository.ChildChunkLink) error {
	if len(links) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, link := range links {
		batch.Queue(`
			INSERT INTO child_chunk_links (id, parent_chunk_id, document_id, chunk_index, content, vector_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, link.ID, link.ParentChunkID, link.DocumentID, link.ChunkIndex, link.Content, link.VectorKey, link.CreatedAt)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range links {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to create child chunk link: %w", err)
		}
	}
	return nil
}

// DeleteByDocument removes all parent chunks for a document; child chunk
// links cascade via FK
func (r *ChunkRepo) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM parent_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete parent chunks: %w", err)
	}
	return nil
}

// GetParentsByIDs fetches parent chunks for a set of ids in a single query
func (r *ChunkRepo) GetParentsByIDs(ctx context.Context, ids []uuid.UUID) ([]*repository.ParentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, document_id, parent_index, content, state, created_at
		FROM parent_chunks
		WHERE id = ANY($1)
	`
	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent chunks: %w", err)
	}
	defer rows.Close()

	var parents []*repository.ParentChunk
	for rows.Next() {
		var p repository.ParentChunk
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.ParentIndex, &p.Content, &p.State, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan parent chunk: %w", err)
		}
		parents = append(parents, &p)
	}
	return parents, rows.Err()
}

// ListVectorKeys returns every vector-index key persisted for a document
func (r *ChunkRepo) ListVectorKeys(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	query := `
		SELECT vector_key
		FROM child_chunk_links
		WHERE document_id = $1
		ORDER BY chunk_index
	`
	rows, err := r.db.Pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan vector key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Ensure ChunkRepo implements the interface
var _ repository.ChunkRepository = (*ChunkRepo)(nil)
