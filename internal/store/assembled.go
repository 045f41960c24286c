package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AssembledRepo manages assembled-document records and the rendered blobs
// derived from them. An assembled document becomes immutable when it reaches
// VALIDATED; every terminal write is conditional on is_immutable = FALSE.
type AssembledRepo struct {
	db *sqlx.DB
}

func NewAssembledRepo(db *sqlx.DB) *AssembledRepo {
	return &AssembledRepo{db: db}
}

// CreateAssembly inserts an IN_PROGRESS assembly record.
func (r *AssembledRepo) CreateAssembly(ctx context.Context, documentID, templateVersionID string, versionIntent int, outputBatchID string) (*AssembledDocument, error) {
	a := AssembledDocument{
		ID:                   uuid.NewString(),
		DocumentID:           documentID,
		TemplateVersionID:    templateVersionID,
		VersionIntent:        versionIntent,
		SectionOutputBatchID: outputBatchID,
		Status:               AssemblyInProgress,
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO assembled_documents (id, document_id, template_version_id, version_intent, section_output_batch_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.DocumentID, a.TemplateVersionID, a.VersionIntent, a.SectionOutputBatchID, a.Status)
	if err != nil {
		return nil, fmt.Errorf("insert assembled document: %w", err)
	}
	return &a, nil
}

// CompleteAssembly stores the assembled structure, injection results and
// assembly hash, sealing the record as VALIDATED + immutable.
func (r *AssembledRepo) CompleteAssembly(ctx context.Context, id, assemblyHash string, totalBlocks, modifiedBlocks int, structure, injectionResults []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE assembled_documents
		 SET status = $1, assembly_hash = $2, total_blocks = $3, modified_blocks = $4,
		     assembled_structure = $5, injection_results = $6,
		     error_code = NULL, error_message = NULL,
		     is_immutable = TRUE, updated_at = now()
		 WHERE id = $7 AND is_immutable = FALSE`,
		AssemblyValidated, assemblyHash, totalBlocks, modifiedBlocks, structure, injectionResults, id)
	if err != nil {
		return fmt.Errorf("complete assembly: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete assembly rows: %w", err)
	}
	if n == 0 {
		return ImmutabilityViolationError{Entity: "assembled_document", ID: id}
	}
	return nil
}

// FailAssembly records the typed failure. The record stays mutable so a
// retried job can observe and supersede it.
func (r *AssembledRepo) FailAssembly(ctx context.Context, id, errorCode, errorMessage string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE assembled_documents
		 SET status = $1, error_code = $2, error_message = $3, updated_at = now()
		 WHERE id = $4 AND is_immutable = FALSE`,
		AssemblyFailed, errorCode, errorMessage, id)
	if err != nil {
		return fmt.Errorf("fail assembly: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail assembly rows: %w", err)
	}
	if n == 0 {
		return ImmutabilityViolationError{Entity: "assembled_document", ID: id}
	}
	return nil
}

// FindValidatedByOutputBatch returns the sealed assembly already built from
// this output batch, or nil when none exists. Re-assembly over the same
// batch is refused unless forced, so this is the precondition read.
func (r *AssembledRepo) FindValidatedByOutputBatch(ctx context.Context, outputBatchID string) (*AssembledDocument, error) {
	var a AssembledDocument
	err := r.db.GetContext(ctx, &a,
		`SELECT * FROM assembled_documents
		 WHERE section_output_batch_id = $1 AND status = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		outputBatchID, AssemblyValidated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find assembly by output batch: %w", err)
	}
	return &a, nil
}

// GetAssembly fetches an assembled document by id.
func (r *AssembledRepo) GetAssembly(ctx context.Context, id string) (*AssembledDocument, error) {
	var a AssembledDocument
	err := r.db.GetContext(ctx, &a,
		`SELECT * FROM assembled_documents WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "assembled_document", ID: id}
		}
		return nil, fmt.Errorf("get assembled document: %w", err)
	}
	return &a, nil
}

// CreateRendered records a rendered blob for an assembled document.
func (r *AssembledRepo) CreateRendered(ctx context.Context, assembledID, outputPath, contentHash string, fileSize int64, blockCount int) (*RenderedDocument, error) {
	rd := RenderedDocument{
		ID:                  uuid.NewString(),
		AssembledDocumentID: assembledID,
		OutputPath:          outputPath,
		ContentHash:         contentHash,
		FileSize:            fileSize,
		BlockCount:          blockCount,
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rendered_documents (id, assembled_document_id, output_path, content_hash, file_size, block_count)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rd.ID, rd.AssembledDocumentID, rd.OutputPath, rd.ContentHash, rd.FileSize, rd.BlockCount)
	if err != nil {
		return nil, fmt.Errorf("insert rendered document: %w", err)
	}
	return &rd, nil
}

// GetRendered fetches a rendered document by id.
func (r *AssembledRepo) GetRendered(ctx context.Context, id string) (*RenderedDocument, error) {
	var rd RenderedDocument
	err := r.db.GetContext(ctx, &rd,
		`SELECT * FROM rendered_documents WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "rendered_document", ID: id}
		}
		return nil, fmt.Errorf("get rendered document: %w", err)
	}
	return &rd, nil
}
