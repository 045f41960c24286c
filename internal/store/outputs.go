package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// OutputRepo manages section-output batches and their per-section rows.
// Generated content becomes immutable the moment it is validated: status,
// is_validated and is_immutable flip in the same conditional write.
type OutputRepo struct {
	db *sqlx.DB
}

func NewOutputRepo(db *sqlx.DB) *OutputRepo {
	return &OutputRepo{db: db}
}

// CreateOutputBatch inserts the batch shell plus one PENDING output row per
// input, all in one transaction.
func (r *OutputRepo) CreateOutputBatch(ctx context.Context, inputBatchID string, sectionIDs []int64) (*SectionOutputBatch, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin output batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b := SectionOutputBatch{
		ID:           uuid.NewString(),
		InputBatchID: inputBatchID,
		Status:       BatchPending,
		TotalOutputs: len(sectionIDs),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO section_output_batches (id, input_batch_id, status, total_outputs)
		 VALUES ($1, $2, $3, $4)`,
		b.ID, b.InputBatchID, b.Status, b.TotalOutputs)
	if err != nil {
		return nil, fmt.Errorf("insert output batch: %w", err)
	}

	for _, sid := range sectionIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO section_outputs (id, output_batch_id, input_batch_id, section_id, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), b.ID, inputBatchID, sid, OutputPending)
		if err != nil {
			return nil, fmt.Errorf("insert section output for section %d: %w", sid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit output batch: %w", err)
	}
	return &b, nil
}

// RecordOutput stores generated content for a section and seals the row:
// VALIDATED, is_validated and is_immutable are set together. Rows already
// sealed are rejected.
func (r *OutputRepo) RecordOutput(ctx context.Context, outputBatchID string, sectionID int64, content, contentHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE section_outputs
		 SET status = $1, generated_content = $2, content_hash = $3,
		     is_validated = TRUE, is_immutable = TRUE, error = NULL, updated_at = now()
		 WHERE output_batch_id = $4 AND section_id = $5 AND is_immutable = FALSE`,
		OutputValidated, content, contentHash, outputBatchID, sectionID)
	if err != nil {
		return fmt.Errorf("record section output: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record section output rows: %w", err)
	}
	if n == 0 {
		return ImmutabilityViolationError{Entity: "section_output", ID: fmt.Sprintf("%s/%d", outputBatchID, sectionID)}
	}
	return nil
}

// RecordFailure marks one section's generation as FAILED with the error.
func (r *OutputRepo) RecordFailure(ctx context.Context, outputBatchID string, sectionID int64, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE section_outputs
		 SET status = $1, error = $2, updated_at = now()
		 WHERE output_batch_id = $3 AND section_id = $4 AND is_immutable = FALSE`,
		OutputFailed, errMsg, outputBatchID, sectionID)
	if err != nil {
		return fmt.Errorf("record section failure: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record section failure rows: %w", err)
	}
	if n == 0 {
		return ImmutabilityViolationError{Entity: "section_output", ID: fmt.Sprintf("%s/%d", outputBatchID, sectionID)}
	}
	return nil
}

// FinalizeBatch derives the batch outcome from its rows: VALIDATED when
// every output validated, FAILED otherwise, with failed_count recorded.
func (r *OutputRepo) FinalizeBatch(ctx context.Context, outputBatchID string) (*SectionOutputBatch, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var counts struct {
		Total  int `db:"total"`
		Failed int `db:"failed"`
	}
	err = tx.GetContext(ctx, &counts,
		`SELECT COUNT(*) AS total,
		        COUNT(*) FILTER (WHERE status = $1) AS failed
		 FROM section_outputs WHERE output_batch_id = $2`,
		OutputFailed, outputBatchID)
	if err != nil {
		return nil, fmt.Errorf("count outputs: %w", err)
	}

	status := BatchValidated
	if counts.Failed > 0 {
		status = BatchFailed
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE section_output_batches
		 SET status = $1, failed_count = $2, updated_at = now()
		 WHERE id = $3`,
		status, counts.Failed, outputBatchID)
	if err != nil {
		return nil, fmt.Errorf("finalize output batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}

	return r.GetOutputBatch(ctx, outputBatchID)
}

// GetOutputBatch fetches a batch by id.
func (r *OutputRepo) GetOutputBatch(ctx context.Context, outputBatchID string) (*SectionOutputBatch, error) {
	var b SectionOutputBatch
	err := r.db.GetContext(ctx, &b,
		`SELECT * FROM section_output_batches WHERE id = $1`, outputBatchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "section_output_batch", ID: outputBatchID}
		}
		return nil, fmt.Errorf("get output batch: %w", err)
	}
	return &b, nil
}

// ListOutputs returns all outputs of a batch ordered by section id.
func (r *OutputRepo) ListOutputs(ctx context.Context, outputBatchID string) ([]SectionOutput, error) {
	var outputs []SectionOutput
	err := r.db.SelectContext(ctx, &outputs,
		`SELECT * FROM section_outputs WHERE output_batch_id = $1 ORDER BY section_id`,
		outputBatchID)
	if err != nil {
		return nil, fmt.Errorf("list section outputs: %w", err)
	}
	return outputs, nil
}

// LatestValidatedBatchForDocument returns the document's newest VALIDATED
// output batch, or nil when the document has never generated successfully.
// Section regeneration carries unchanged sections over from it.
func (r *OutputRepo) LatestValidatedBatchForDocument(ctx context.Context, documentID string) (*SectionOutputBatch, error) {
	var b SectionOutputBatch
	err := r.db.GetContext(ctx, &b,
		`SELECT ob.* FROM section_output_batches ob
		 JOIN generation_input_batches ib ON ib.id = ob.input_batch_id
		 WHERE ib.document_id = $1 AND ob.status = $2
		 ORDER BY ob.created_at DESC
		 LIMIT 1`,
		documentID, BatchValidated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest validated output batch: %w", err)
	}
	return &b, nil
}

// ListValidatedOutputs returns only validated outputs, the assembly feed.
func (r *OutputRepo) ListValidatedOutputs(ctx context.Context, outputBatchID string) ([]SectionOutput, error) {
	var outputs []SectionOutput
	err := r.db.SelectContext(ctx, &outputs,
		`SELECT * FROM section_outputs
		 WHERE output_batch_id = $1 AND is_validated = TRUE
		 ORDER BY section_id`,
		outputBatchID)
	if err != nil {
		return nil, fmt.Errorf("list validated outputs: %w", err)
	}
	return outputs, nil
}
