// Package generation covers the first two pipeline stages: preparing the
// immutable per-section input batch and generating content for each input.
package generation

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/docforge/internal/audit"
	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/hashing"
	"git.home.luguber.info/inful/docforge/internal/storage"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// Prompt-config fields classification must have recorded for a DYNAMIC
// section before inputs can be prepared from it.
var requiredPromptConfigFields = []string{
	"classification_confidence",
	"classification_method",
	"justification",
}

// Documents is the document-repository slice input preparation needs.
type Documents interface {
	Get(ctx context.Context, id string) (*store.Document, error)
}

// TemplateVersions resolves the template version a document is bound to.
type TemplateVersions interface {
	GetVersion(ctx context.Context, id string) (*store.TemplateVersion, error)
}

// Sections lists the classification records of a template version.
type Sections interface {
	ListDynamic(ctx context.Context, templateVersionID string) ([]store.Section, error)
}

// Batches persists input batches. *store.BatchRepo satisfies it.
type Batches interface {
	CreateBatch(ctx context.Context, documentID, templateVersionID string, versionIntent int, inputs []store.NewInput) (*store.GenerationInputBatch, error)
	ValidateBatch(ctx context.Context, batchID, contentHash string) error
	FailBatch(ctx context.Context, batchID string) error
}

// PrepareRequest identifies one generation run: the document, optionally
// the template version the caller believes it is bound to, the intended
// version number (0 derives the next one), and the client data frozen into
// every snapshot.
type PrepareRequest struct {
	DocumentID        string
	TemplateVersionID string
	VersionIntent     int
	ClientData        store.JSONMap
}

// Preparer builds the content-addressed input batch for one generation run.
// The batch snapshots everything generation will read, so a later run over
// identical state produces an identical batch hash.
type Preparer struct {
	documents Documents
	templates TemplateVersions
	sections  Sections
	batches   Batches
	objects   storage.ObjectStore
	auditor   *audit.Logger
	log       *slog.Logger
}

func NewPreparer(documents Documents, templates TemplateVersions, sections Sections, batches Batches, objects storage.ObjectStore, auditor *audit.Logger, log *slog.Logger) *Preparer {
	return &Preparer{
		documents: documents,
		templates: templates,
		sections:  sections,
		batches:   batches,
		objects:   objects,
		auditor:   auditor,
		log:       log.With("component", "input-preparation"),
	}
}

// PrepareInputs snapshots every dynamic section of the document's template
// version into an immutable, validated input batch. Returns the sealed
// batch together with its inputs.
func (p *Preparer) PrepareInputs(ctx context.Context, req PrepareRequest) (*store.GenerationInputBatch, []store.NewInput, error) {
	doc, err := p.documents.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	if req.TemplateVersionID != "" && req.TemplateVersionID != doc.TemplateVersionID {
		return nil, nil, InputValidationError{
			Field:  "template_version_id",
			Reason: fmt.Sprintf("document %s is bound to template version %s", doc.ID, doc.TemplateVersionID),
			Value:  req.TemplateVersionID,
		}
	}
	tv, err := p.templates.GetVersion(ctx, doc.TemplateVersionID)
	if err != nil {
		return nil, nil, err
	}
	if tv.ParsingStatus != store.ParsingCompleted || tv.ParsedPath == nil {
		return nil, nil, fmt.Errorf("template version %s has not completed parsing", tv.ID)
	}

	dynamic, err := p.sections.ListDynamic(ctx, tv.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(dynamic) == 0 {
		return nil, nil, NoDynamicSectionsError{TemplateVersionID: tv.ID}
	}

	data, err := p.objects.Get(ctx, *tv.ParsedPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load parsed template: %w", err)
	}
	parsed, err := docmodel.UnmarshalParsedDocument(data)
	if err != nil {
		return nil, nil, err
	}
	blockIndex := make(map[string]int, len(parsed.Blocks))
	for i, b := range parsed.Blocks {
		blockIndex[b.BlockID] = i
	}

	clientData := frozenClientData(req.ClientData)

	inputs := make([]store.NewInput, 0, len(dynamic))
	hashes := make([]string, 0, len(dynamic))
	for seq, section := range dynamic {
		if err := validateSection(section); err != nil {
			return nil, nil, err
		}
		idx, ok := blockIndex[section.StructuralPath]
		if !ok {
			return nil, nil, MalformedSectionMetadataError{
				SectionID:      section.ID,
				StructuralPath: section.StructuralPath,
				Detail:         "no such block in parsed template",
			}
		}

		snapshot := buildSnapshot(parsed, idx, section, clientData)
		hash, err := hashing.HashValue(snapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("hash input for section %d: %w", section.ID, err)
		}
		inputs = append(inputs, store.NewInput{
			SectionID:     section.ID,
			SequenceOrder: seq,
			Snapshot:      snapshot,
			InputHash:     hash,
		})
		hashes = append(hashes, hash)
	}

	versionIntent := req.VersionIntent
	if versionIntent <= 0 {
		versionIntent = doc.CurrentVersion + 1
	}
	batch, err := p.batches.CreateBatch(ctx, req.DocumentID, tv.ID, versionIntent, inputs)
	if err != nil {
		return nil, nil, err
	}

	batchHash, err := hashing.BatchHash(hashes)
	if err != nil {
		ferr := p.batches.FailBatch(ctx, batch.ID)
		if ferr != nil {
			p.log.Error("failing batch after hash error failed", "batch_id", batch.ID, "error", ferr)
		}
		return nil, nil, InputValidationError{Reason: err.Error()}
	}
	if err := p.batches.ValidateBatch(ctx, batch.ID, batchHash); err != nil {
		return nil, nil, err
	}
	batch.Status = store.BatchValidated
	batch.ContentHash = &batchHash
	batch.IsImmutable = true

	p.auditor.Record(ctx, audit.EntityGenerationInputBatch, batch.ID, audit.ActionGenerationInitiated, store.JSONMap{
		"document_id":    req.DocumentID,
		"version_intent": versionIntent,
		"total_inputs":   len(inputs),
		"content_hash":   batchHash,
	})
	p.log.Info("input batch prepared",
		"batch_id", batch.ID,
		"document_id", req.DocumentID,
		"version_intent", versionIntent,
		"total_inputs", len(inputs))
	return batch, inputs, nil
}

// validateSection checks a dynamic section's row and prompt configuration
// before anything is snapshotted from it.
func validateSection(section store.Section) error {
	if section.ID <= 0 {
		return InputValidationError{Field: "section_id", Reason: "must be positive", SectionID: section.ID, Value: section.ID}
	}
	if section.StructuralPath == "" {
		return InputValidationError{Field: "structural_path", Reason: "must not be empty", SectionID: section.ID, Value: ""}
	}
	if len(section.PromptConfig) == 0 {
		return MissingPromptConfigError{SectionID: section.ID, StructuralPath: section.StructuralPath}
	}
	for _, field := range requiredPromptConfigFields {
		if _, ok := section.PromptConfig[field]; !ok {
			return MissingPromptConfigError{SectionID: section.ID, StructuralPath: section.StructuralPath, Field: field}
		}
	}
	confidence, ok := toFloat(section.PromptConfig["classification_confidence"])
	if !ok {
		return MalformedSectionMetadataError{
			SectionID:      section.ID,
			StructuralPath: section.StructuralPath,
			Detail:         "classification_confidence is not numeric",
		}
	}
	if confidence < 0 || confidence > 1 {
		return InputValidationError{
			Field:     "classification_confidence",
			Reason:    "must be within [0,1]",
			SectionID: section.ID,
			Value:     confidence,
		}
	}
	return nil
}

// buildSnapshot freezes everything generation will read for one section:
// the prompt configuration, the client data, the template text of the block
// itself, the heading trail above it, and its immediate neighbours. The
// snapshot carries no timestamps or generated ids, so its hash is
// reproducible across runs.
func buildSnapshot(parsed *docmodel.ParsedDocument, idx int, section store.Section, clientData map[string]any) store.JSONMap {
	b := &parsed.Blocks[idx]

	var trail []string
	for i := 0; i < idx; i++ {
		if parsed.Blocks[i].Type == docmodel.BlockTypeHeading {
			trail = append(trail, parsed.Blocks[i].Text())
		}
	}
	var before, after string
	if idx > 0 {
		before = parsed.Blocks[idx-1].Text()
	}
	if idx+1 < len(parsed.Blocks) {
		after = parsed.Blocks[idx+1].Text()
	}

	return store.JSONMap{
		"structural_path": section.StructuralPath,
		"block_type":      string(b.Type),
		"template_text":   b.Text(),
		"prompt_config":   map[string]any(section.PromptConfig),
		"client_data":     clientData,
		"heading_trail":   trail,
		"context_before":  before,
		"context_after":   after,
	}
}

// frozenClientData normalises the caller-supplied client data into the
// fixed shape every snapshot carries: client id, client name, arbitrary
// data fields, and free-form custom context. Absent keys freeze as zero
// values so the hash of "no client data" is itself stable.
func frozenClientData(cd store.JSONMap) map[string]any {
	out := map[string]any{
		"client_id":      "",
		"client_name":    "",
		"data_fields":    map[string]any{},
		"custom_context": "",
	}
	if id, ok := cd["client_id"].(string); ok {
		out["client_id"] = id
	}
	if name, ok := cd["client_name"].(string); ok {
		out["client_name"] = name
	}
	if fields, ok := cd["data_fields"].(map[string]any); ok {
		out["data_fields"] = fields
	}
	if cc, ok := cd["custom_context"].(string); ok {
		out["custom_context"] = cc
	}
	return out
}

// toFloat accepts the numeric types a JSON column round-trip can produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
