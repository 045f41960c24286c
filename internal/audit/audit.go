// Package audit gives the rest of the system a typed facade over the
// append-only journal: entity and action names are constants here so
// call sites cannot drift on spelling.
package audit

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/docforge/internal/store"
)

// Entity types recorded in the journal.
const (
	EntityTemplate             = "TEMPLATE"
	EntityTemplateVersion      = "TEMPLATE_VERSION"
	EntitySection              = "SECTION"
	EntityDocument             = "DOCUMENT"
	EntityDocumentVersion      = "DOCUMENT_VERSION"
	EntityGenerationInputBatch = "GENERATION_INPUT_BATCH"
	EntitySectionOutputBatch   = "SECTION_OUTPUT_BATCH"
	EntityAssembledDocument    = "ASSEMBLED_DOCUMENT"
	EntityRenderedDocument     = "RENDERED_DOCUMENT"
	EntityJob                  = "JOB"
)

// Actions recorded in the journal.
const (
	ActionCreate                     = "CREATE"
	ActionUpdateCurrentVersion       = "UPDATE_CURRENT_VERSION"
	ActionGenerationInitiated        = "GENERATION_INITIATED"
	ActionSectionGenerationCompleted = "SECTION_GENERATION_COMPLETED"
	ActionSectionGenerationFailed    = "SECTION_GENERATION_FAILED"
	ActionBatchGenerationCompleted   = "BATCH_GENERATION_COMPLETED"
	ActionBatchGenerationFailed      = "BATCH_GENERATION_FAILED"
	ActionDocumentAssemblyCompleted  = "DOCUMENT_ASSEMBLY_COMPLETED"
	ActionDocumentAssemblyFailed     = "DOCUMENT_ASSEMBLY_FAILED"
	ActionDocumentRenderingCompleted = "DOCUMENT_RENDERING_COMPLETED"
	ActionDocumentRenderingFailed    = "DOCUMENT_RENDERING_FAILED"
	ActionJobRecovered               = "JOB_RECOVERED"
)

// Journal appends entries. *store.AuditRepo satisfies it.
type Journal interface {
	Append(ctx context.Context, entityType, entityID, action string, metadata store.JSONMap) error
}

// Logger records audit events. Append failures are logged but never
// propagated: the journal is an observability surface and must not fail the
// pipeline that feeds it.
type Logger struct {
	journal Journal
	log     *slog.Logger
}

func NewLogger(journal Journal, log *slog.Logger) *Logger {
	return &Logger{journal: journal, log: log.With("component", "audit")}
}

// Record appends one entry, swallowing (but logging) journal errors.
func (l *Logger) Record(ctx context.Context, entityType, entityID, action string, metadata store.JSONMap) {
	if err := l.journal.Append(ctx, entityType, entityID, action, metadata); err != nil {
		l.log.Error("audit append failed",
			"entity_type", entityType,
			"entity_id", entityID,
			"action", action,
			"error", err)
	}
}
