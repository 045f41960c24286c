package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// AuditRepo is the append-only journal. There are no update or delete
// operations on purpose.
type AuditRepo struct {
	db *sqlx.DB
}

func NewAuditRepo(db *sqlx.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append writes one journal entry.
func (r *AuditRepo) Append(ctx context.Context, entityType, entityID, action string, metadata JSONMap) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, action, metadata)
		 VALUES ($1, $2, $3, $4)`,
		entityType, entityID, action, metadata)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListByEntity returns the entity's journal, newest first.
func (r *AuditRepo) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []AuditEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT * FROM audit_log
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY id DESC
		 LIMIT $3`,
		entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// ListByAction returns the newest entries for one action across entities.
func (r *AuditRepo) ListByAction(ctx context.Context, action string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []AuditEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT * FROM audit_log
		 WHERE action = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		action, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries by action: %w", err)
	}
	return entries, nil
}
