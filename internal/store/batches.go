package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// BatchRepo manages generation-input batches and their per-section inputs.
// A batch is mutable only while PENDING; validation seals it (VALIDATED +
// is_immutable) and every later write is rejected.
type BatchRepo struct {
	db *sqlx.DB
}

func NewBatchRepo(db *sqlx.DB) *BatchRepo {
	return &BatchRepo{db: db}
}

// NewInput is the insert shape for CreateBatch.
type NewInput struct {
	SectionID     int64
	SequenceOrder int
	Snapshot      JSONMap
	InputHash     string
}

// CreateBatch inserts the batch and all its inputs in one transaction,
// leaving the batch PENDING.
func (r *BatchRepo) CreateBatch(ctx context.Context, documentID, templateVersionID string, versionIntent int, inputs []NewInput) (*GenerationInputBatch, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b := GenerationInputBatch{
		ID:                uuid.NewString(),
		DocumentID:        documentID,
		TemplateVersionID: templateVersionID,
		VersionIntent:     versionIntent,
		Status:            BatchPending,
		TotalInputs:       len(inputs),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO generation_input_batches (id, document_id, template_version_id, version_intent, status, total_inputs)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.DocumentID, b.TemplateVersionID, b.VersionIntent, b.Status, b.TotalInputs)
	if err != nil {
		return nil, fmt.Errorf("insert input batch: %w", err)
	}

	for _, in := range inputs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO generation_inputs (id, batch_id, section_id, sequence_order, snapshot, input_hash)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), b.ID, in.SectionID, in.SequenceOrder, in.Snapshot, in.InputHash)
		if err != nil {
			return nil, fmt.Errorf("insert generation input %d: %w", in.SequenceOrder, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit input batch: %w", err)
	}
	return &b, nil
}

// ValidateBatch seals a PENDING batch: stamps the batch content hash, sets
// VALIDATED and is_immutable in one conditional write. A batch already
// sealed or failed raises an immutability violation.
func (r *BatchRepo) ValidateBatch(ctx context.Context, batchID, contentHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE generation_input_batches
		 SET status = $1, content_hash = $2, is_immutable = TRUE, updated_at = now()
		 WHERE id = $3 AND status = $4 AND is_immutable = FALSE`,
		BatchValidated, contentHash, batchID, BatchPending)
	if err != nil {
		return fmt.Errorf("validate input batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("validate input batch rows: %w", err)
	}
	if n == 0 {
		return ImmutabilityViolationError{Entity: "generation_input_batch", ID: batchID}
	}
	return nil
}

// FailBatch marks a PENDING batch FAILED. Sealed batches are untouched.
func (r *BatchRepo) FailBatch(ctx context.Context, batchID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE generation_input_batches
		 SET status = $1, updated_at = now()
		 WHERE id = $2 AND is_immutable = FALSE`,
		BatchFailed, batchID)
	if err != nil {
		return fmt.Errorf("fail input batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail input batch rows: %w", err)
	}
	if n == 0 {
		return ImmutabilityViolationError{Entity: "generation_input_batch", ID: batchID}
	}
	return nil
}

// GetBatch fetches a batch by id.
func (r *BatchRepo) GetBatch(ctx context.Context, batchID string) (*GenerationInputBatch, error) {
	var b GenerationInputBatch
	err := r.db.GetContext(ctx, &b,
		`SELECT * FROM generation_input_batches WHERE id = $1`, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "generation_input_batch", ID: batchID}
		}
		return nil, fmt.Errorf("get input batch: %w", err)
	}
	return &b, nil
}

// ListInputs returns the batch's inputs in sequence order.
func (r *BatchRepo) ListInputs(ctx context.Context, batchID string) ([]GenerationInput, error) {
	var inputs []GenerationInput
	err := r.db.SelectContext(ctx, &inputs,
		`SELECT * FROM generation_inputs WHERE batch_id = $1 ORDER BY sequence_order`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("list generation inputs: %w", err)
	}
	return inputs, nil
}
