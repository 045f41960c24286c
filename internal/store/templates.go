package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TemplateRepo manages templates and their immutable versions.
type TemplateRepo struct {
	db *sqlx.DB
}

func NewTemplateRepo(db *sqlx.DB) *TemplateRepo {
	return &TemplateRepo{db: db}
}

// Create inserts a template and returns its id.
func (r *TemplateRepo) Create(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO templates (id, name) VALUES ($1, $2)`, id, name)
	if err != nil {
		return "", fmt.Errorf("create template: %w", err)
	}
	return id, nil
}

// Get fetches a template by id.
func (r *TemplateRepo) Get(ctx context.Context, id string) (*Template, error) {
	var t Template
	err := r.db.GetContext(ctx, &t, `SELECT * FROM templates WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "template", ID: id}
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// CreateVersion allocates the next dense version number for the template and
// inserts the version row in one transaction. The MAX+1 read and the insert
// share a transaction so concurrent uploads cannot collide on a number; the
// unique constraint on (template_id, version_number) backstops it.
func (r *TemplateRepo) CreateVersion(ctx context.Context, templateID, sourcePath string) (*TemplateVersion, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin version transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM template_versions WHERE template_id = $1`,
		templateID)
	if err != nil {
		return nil, fmt.Errorf("next template version number: %w", err)
	}

	tv := TemplateVersion{
		ID:            uuid.NewString(),
		TemplateID:    templateID,
		VersionNumber: next,
		SourcePath:    sourcePath,
		ParsingStatus: ParsingPending,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO template_versions (id, template_id, version_number, source_path, parsing_status)
		 VALUES ($1, $2, $3, $4, $5)`,
		tv.ID, tv.TemplateID, tv.VersionNumber, tv.SourcePath, tv.ParsingStatus)
	if err != nil {
		return nil, fmt.Errorf("insert template version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit template version: %w", err)
	}
	return &tv, nil
}

// GetVersion fetches a template version by id.
func (r *TemplateRepo) GetVersion(ctx context.Context, id string) (*TemplateVersion, error) {
	var tv TemplateVersion
	err := r.db.GetContext(ctx, &tv, `SELECT * FROM template_versions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "template_version", ID: id}
		}
		return nil, fmt.Errorf("get template version: %w", err)
	}
	return &tv, nil
}

// MarkParsing moves a version from PENDING to IN_PROGRESS.
func (r *TemplateRepo) MarkParsing(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE template_versions SET parsing_status = $1, updated_at = now()
		 WHERE id = $2 AND parsing_status = $3`,
		ParsingInProgress, id, ParsingPending)
	if err != nil {
		return fmt.Errorf("mark parsing: %w", err)
	}
	return nil
}

// CompleteParsing stamps the parsed artifact location and content hash.
// A version that already completed is immutable: repeat writes are rejected.
func (r *TemplateRepo) CompleteParsing(ctx context.Context, id, parsedPath, contentHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE template_versions
		 SET parsing_status = $1, parsed_path = $2, content_hash = $3,
		     parsing_error = NULL, updated_at = now()
		 WHERE id = $4 AND parsing_status <> $1`,
		ParsingCompleted, parsedPath, contentHash, id)
	if err != nil {
		return fmt.Errorf("complete parsing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete parsing rows: %w", err)
	}
	if n == 0 {
		return ImmutabilityViolationError{Entity: "template_version", ID: id}
	}
	return nil
}

// FailParsing records a parse failure.
func (r *TemplateRepo) FailParsing(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE template_versions
		 SET parsing_status = $1, parsing_error = $2, updated_at = now()
		 WHERE id = $3`,
		ParsingFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("fail parsing: %w", err)
	}
	return nil
}

// ListVersions returns all versions of a template, newest first.
func (r *TemplateRepo) ListVersions(ctx context.Context, templateID string) ([]TemplateVersion, error) {
	var versions []TemplateVersion
	err := r.db.SelectContext(ctx, &versions,
		`SELECT * FROM template_versions WHERE template_id = $1 ORDER BY version_number DESC`,
		templateID)
	if err != nil {
		return nil, fmt.Errorf("list template versions: %w", err)
	}
	return versions, nil
}
