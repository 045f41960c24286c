package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DocumentRepo manages documents and their numbered versions. Version
// numbers are dense per document and current_version always points at the
// highest one; both invariants are enforced transactionally in
// CreateVersion.
type DocumentRepo struct {
	db *sqlx.DB
}

func NewDocumentRepo(db *sqlx.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create inserts a document bound to a template version.
func (r *DocumentRepo) Create(ctx context.Context, templateVersionID string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, template_version_id) VALUES ($1, $2)`,
		id, templateVersionID)
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	return id, nil
}

// Get fetches a document by id.
func (r *DocumentRepo) Get(ctx context.Context, id string) (*Document, error) {
	var d Document
	err := r.db.GetContext(ctx, &d, `SELECT * FROM documents WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "document", ID: id}
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

// NextVersionNumber returns current_version + 1 for the document, the
// version a new generation run intends to produce.
func (r *DocumentRepo) NextVersionNumber(ctx context.Context, documentID string) (int, error) {
	d, err := r.Get(ctx, documentID)
	if err != nil {
		return 0, err
	}
	return d.CurrentVersion + 1, nil
}

// FindVersionByHash returns the existing version of this document with the
// given content hash, or nil. Versioning uses this for content dedup.
func (r *DocumentRepo) FindVersionByHash(ctx context.Context, documentID, contentHash string) (*DocumentVersion, error) {
	var v DocumentVersion
	err := r.db.GetContext(ctx, &v,
		`SELECT * FROM document_versions
		 WHERE document_id = $1 AND content_hash = $2
		 ORDER BY version_number
		 LIMIT 1`,
		documentID, contentHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find version by hash: %w", err)
	}
	return &v, nil
}

// GetVersion fetches one numbered version of a document.
func (r *DocumentRepo) GetVersion(ctx context.Context, documentID string, versionNumber int) (*DocumentVersion, error) {
	var v DocumentVersion
	err := r.db.GetContext(ctx, &v,
		`SELECT * FROM document_versions WHERE document_id = $1 AND version_number = $2`,
		documentID, versionNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "document_version", ID: fmt.Sprintf("%s/v%d", documentID, versionNumber)}
		}
		return nil, fmt.Errorf("get document version: %w", err)
	}
	return &v, nil
}

// ListVersions returns all versions of a document in ascending order.
func (r *DocumentRepo) ListVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	var versions []DocumentVersion
	err := r.db.SelectContext(ctx, &versions,
		`SELECT * FROM document_versions WHERE document_id = $1 ORDER BY version_number`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	return versions, nil
}

// CreateVersion inserts the next version row and advances current_version in
// one transaction. The row lock on the document serializes concurrent
// version creation; the number is re-derived inside the transaction so the
// result is always current_version + 1 at commit time.
func (r *DocumentRepo) CreateVersion(ctx context.Context, documentID, outputPath, contentHash string, metadata JSONMap) (*DocumentVersion, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin version transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.GetContext(ctx, &current,
		`SELECT current_version FROM documents WHERE id = $1 FOR UPDATE`, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "document", ID: documentID}
		}
		return nil, fmt.Errorf("lock document: %w", err)
	}

	v := DocumentVersion{
		ID:                 uuid.NewString(),
		DocumentID:         documentID,
		VersionNumber:      current + 1,
		OutputPath:         outputPath,
		ContentHash:        contentHash,
		GenerationMetadata: metadata,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_versions (id, document_id, version_number, output_path, content_hash, generation_metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.DocumentID, v.VersionNumber, v.OutputPath, v.ContentHash, v.GenerationMetadata)
	if err != nil {
		return nil, fmt.Errorf("insert document version: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET current_version = $1, updated_at = now() WHERE id = $2`,
		v.VersionNumber, documentID)
	if err != nil {
		return nil, fmt.Errorf("advance current version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit document version: %w", err)
	}
	return &v, nil
}

// DeleteVersion removes a version row. Versioning uses this only to roll
// back a commit whose storage write could not be verified; it refuses to
// touch any version other than the document's newest.
func (r *DocumentRepo) DeleteVersion(ctx context.Context, documentID string, versionNumber int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollback transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.GetContext(ctx, &current,
		`SELECT current_version FROM documents WHERE id = $1 FOR UPDATE`, documentID)
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	if versionNumber != current {
		return fmt.Errorf("refusing to delete version %d: document %s is at version %d", versionNumber, documentID, current)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM document_versions WHERE document_id = $1 AND version_number = $2`,
		documentID, versionNumber)
	if err != nil {
		return fmt.Errorf("delete document version: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET current_version = $1, updated_at = now() WHERE id = $2`,
		versionNumber-1, documentID)
	if err != nil {
		return fmt.Errorf("rewind current version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	return nil
}
