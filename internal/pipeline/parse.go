package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/docforge/internal/audit"
	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/hashing"
	"git.home.luguber.info/inful/docforge/internal/queue"
	"git.home.luguber.info/inful/docforge/internal/storage"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// TemplateParser converts an uploaded template binary into the block model.
// Implementations must assign each block its structural path as the block
// id (body/block/{sequence}) so classification and assembly can correlate
// rows to blocks without a separate mapping.
type TemplateParser interface {
	Parse(ctx context.Context, source []byte) (*docmodel.ParsedDocument, error)
}

// TemplateStore is the template-repository slice the PARSE handler needs.
type TemplateStore interface {
	GetVersion(ctx context.Context, id string) (*store.TemplateVersion, error)
	MarkParsing(ctx context.Context, id string) error
	CompleteParsing(ctx context.Context, id, parsedPath, contentHash string) error
	FailParsing(ctx context.Context, id, errMsg string) error
}

// JobAdvancer commits a job's completion and its successor's enqueue in one
// transaction. *store.JobRepo satisfies it.
type JobAdvancer interface {
	CompleteAndEnqueue(ctx context.Context, jobID string, result store.JSONMap, nextType store.JobType, nextPayload store.JSONMap) (string, error)
}

// ParseHandler runs PARSE jobs: load the uploaded source, parse it, store
// the parsed artifact, and atomically enqueue the CLASSIFY successor.
type ParseHandler struct {
	parser    TemplateParser
	templates TemplateStore
	jobs      JobAdvancer
	objects   storage.ObjectStore
	notifier  queue.Notifier
	auditor   *audit.Logger
	log       *slog.Logger
}

func NewParseHandler(parser TemplateParser, templates TemplateStore, jobs JobAdvancer, objects storage.ObjectStore, notifier queue.Notifier, auditor *audit.Logger, log *slog.Logger) *ParseHandler {
	return &ParseHandler{
		parser:    parser,
		templates: templates,
		jobs:      jobs,
		objects:   objects,
		notifier:  notifier,
		auditor:   auditor,
		log:       log.With("component", "parse"),
	}
}

func (h *ParseHandler) Handle(ctx context.Context, job *store.Job) (store.JSONMap, error) {
	templateVersionID, err := payloadString(job.Payload, "template_version_id")
	if err != nil {
		return nil, err
	}

	tv, err := h.templates.GetVersion(ctx, templateVersionID)
	if err != nil {
		return nil, err
	}
	if err := h.templates.MarkParsing(ctx, templateVersionID); err != nil {
		return nil, err
	}

	parsed, err := h.parse(ctx, tv)
	if err != nil {
		if ferr := h.templates.FailParsing(ctx, templateVersionID, err.Error()); ferr != nil {
			h.log.Error("recording parse failure failed", "template_version_id", templateVersionID, "error", ferr)
		}
		return nil, err
	}

	data, err := parsed.Marshal()
	if err != nil {
		return nil, err
	}
	parsedPath := storage.TemplateParsedKey(tv.TemplateID, tv.VersionNumber)
	if err := h.objects.Put(ctx, parsedPath, data, storage.ContentTypeJSON); err != nil {
		return nil, fmt.Errorf("store parsed artifact: %w", err)
	}
	if err := h.templates.CompleteParsing(ctx, templateVersionID, parsedPath, parsed.ContentHash); err != nil {
		return nil, err
	}

	h.auditor.Record(ctx, audit.EntityTemplateVersion, templateVersionID, audit.ActionCreate, store.JSONMap{
		"event":        "template_parsed",
		"parsed_path":  parsedPath,
		"content_hash": parsed.ContentHash,
		"total_blocks": parsed.Summary.TotalBlocks,
	})

	result := store.JSONMap{
		"parsed_path":  parsedPath,
		"content_hash": parsed.ContentHash,
		"total_blocks": parsed.Summary.TotalBlocks,
	}
	// Completion and the CLASSIFY enqueue commit together so a crash here
	// cannot complete the parse without scheduling classification.
	classifyID, err := h.jobs.CompleteAndEnqueue(ctx, job.ID, result,
		store.JobTypeClassify, store.JSONMap{"template_version_id": templateVersionID})
	if err != nil {
		return nil, err
	}
	if classifyID != "" {
		if nerr := h.notifier.NotifyJobReady(); nerr != nil {
			h.log.Warn("classify notification failed, workers will poll", "error", nerr)
		}
	}
	h.log.Info("template version parsed",
		"template_version_id", templateVersionID,
		"blocks", parsed.Summary.TotalBlocks,
		"classify_job_id", classifyID)
	return result, queue.ErrAlreadyFinalized
}

// parse loads the source, runs the parser, and normalises the result:
// sequences re-stamped dense, structural-path ids enforced, census
// recomputed, content hash derived from the canonical block list.
func (h *ParseHandler) parse(ctx context.Context, tv *store.TemplateVersion) (*docmodel.ParsedDocument, error) {
	source, err := h.objects.Get(ctx, tv.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("load template source: %w", err)
	}
	parsed, err := h.parser.Parse(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	for i := range parsed.Blocks {
		parsed.Blocks[i].Sequence = i
		parsed.Blocks[i].BlockID = docmodel.StructuralPath(i)
	}
	if err := parsed.Validate(); err != nil {
		return nil, fmt.Errorf("parsed template invalid: %w", err)
	}
	parsed.TemplateVersionID = tv.ID
	parsed.TemplateID = tv.TemplateID
	parsed.VersionNumber = tv.VersionNumber
	parsed.ComputeSummary()

	hash, err := hashing.HashValue(parsed.Blocks)
	if err != nil {
		return nil, fmt.Errorf("hash parsed template: %w", err)
	}
	parsed.ContentHash = hash
	return parsed, nil
}
