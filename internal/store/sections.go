package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SectionRepo manages classification records. Sections are write-once: a
// template version is classified exactly once, and reclassification of the
// same version is rejected rather than updated in place.
type SectionRepo struct {
	db *sqlx.DB
}

func NewSectionRepo(db *sqlx.DB) *SectionRepo {
	return &SectionRepo{db: db}
}

// NewSection is the insert shape for CreateAll.
type NewSection struct {
	SectionType    SectionType
	StructuralPath string
	PromptConfig   JSONMap
}

// CreateAll inserts the full classification for a template version in a
// single transaction. If the version already has sections the call fails
// with an immutability violation.
func (r *SectionRepo) CreateAll(ctx context.Context, templateVersionID string, sections []NewSection) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin section transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.GetContext(ctx, &existing,
		`SELECT COUNT(*) FROM sections WHERE template_version_id = $1`, templateVersionID)
	if err != nil {
		return fmt.Errorf("count existing sections: %w", err)
	}
	if existing > 0 {
		return ImmutabilityViolationError{Entity: "sections", ID: templateVersionID}
	}

	for _, s := range sections {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sections (template_version_id, section_type, structural_path, prompt_config)
			 VALUES ($1, $2, $3, $4)`,
			templateVersionID, s.SectionType, s.StructuralPath, s.PromptConfig)
		if err != nil {
			return fmt.Errorf("insert section %s: %w", s.StructuralPath, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sections: %w", err)
	}
	return nil
}

// ListByVersion returns all sections of a template version in structural
// order (structural paths embed the block sequence, but numeric suffixes do
// not sort lexicographically, so order on id which follows insert order).
func (r *SectionRepo) ListByVersion(ctx context.Context, templateVersionID string) ([]Section, error) {
	var sections []Section
	err := r.db.SelectContext(ctx, &sections,
		`SELECT * FROM sections WHERE template_version_id = $1 ORDER BY id`,
		templateVersionID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

// ListDynamic returns only the DYNAMIC sections of a template version.
func (r *SectionRepo) ListDynamic(ctx context.Context, templateVersionID string) ([]Section, error) {
	var sections []Section
	err := r.db.SelectContext(ctx, &sections,
		`SELECT * FROM sections
		 WHERE template_version_id = $1 AND section_type = $2
		 ORDER BY id`,
		templateVersionID, SectionDynamic)
	if err != nil {
		return nil, fmt.Errorf("list dynamic sections: %w", err)
	}
	return sections, nil
}

// Get fetches one section by id.
func (r *SectionRepo) Get(ctx context.Context, id int64) (*Section, error) {
	var s Section
	err := r.db.GetContext(ctx, &s, `SELECT * FROM sections WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "section", ID: fmt.Sprint(id)}
		}
		return nil, fmt.Errorf("get section: %w", err)
	}
	return &s, nil
}

// GetMany fetches sections by id, keyed by id for lookup.
func (r *SectionRepo) GetMany(ctx context.Context, ids []int64) (map[int64]Section, error) {
	if len(ids) == 0 {
		return map[int64]Section{}, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM sections WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build section query: %w", err)
	}
	var rows []Section
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get sections: %w", err)
	}
	out := make(map[int64]Section, len(rows))
	for _, s := range rows {
		out[s.ID] = s
	}
	return out, nil
}
