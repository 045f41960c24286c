package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docforge/internal/assembly"
	"git.home.luguber.info/inful/docforge/internal/audit"
	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/generation"
	"git.home.luguber.info/inful/docforge/internal/hashing"
	"git.home.luguber.info/inful/docforge/internal/metrics"
	"git.home.luguber.info/inful/docforge/internal/render"
	"git.home.luguber.info/inful/docforge/internal/storage"
	"git.home.luguber.info/inful/docforge/internal/store"
	"git.home.luguber.info/inful/docforge/internal/versioning"
)

// InputPreparer runs stage one. *generation.Preparer satisfies it.
type InputPreparer interface {
	PrepareInputs(ctx context.Context, req generation.PrepareRequest) (*store.GenerationInputBatch, []store.NewInput, error)
}

// SectionGenerator runs stage two. *generation.Generator satisfies it.
type SectionGenerator interface {
	GenerateSectionsWithCarryOver(ctx context.Context, inputBatchID string, inputs []store.NewInput, carryOver map[int64]string) (*store.SectionOutputBatch, error)
}

// TemplateVersions resolves parsed artifacts for assembly.
type TemplateVersions interface {
	GetVersion(ctx context.Context, id string) (*store.TemplateVersion, error)
}

// SectionLister lists classification rows for assembly.
type SectionLister interface {
	ListByVersion(ctx context.Context, templateVersionID string) ([]store.Section, error)
}

// OutputReader reads generation results for assembly and carry-over.
type OutputReader interface {
	ListOutputs(ctx context.Context, outputBatchID string) ([]store.SectionOutput, error)
	ListValidatedOutputs(ctx context.Context, outputBatchID string) ([]store.SectionOutput, error)
	LatestValidatedBatchForDocument(ctx context.Context, documentID string) (*store.SectionOutputBatch, error)
}

// AssemblyStore persists assembly and rendering records. *store.AssembledRepo
// satisfies it.
type AssemblyStore interface {
	FindValidatedByOutputBatch(ctx context.Context, outputBatchID string) (*store.AssembledDocument, error)
	CreateAssembly(ctx context.Context, documentID, templateVersionID string, versionIntent int, outputBatchID string) (*store.AssembledDocument, error)
	CompleteAssembly(ctx context.Context, id, assemblyHash string, totalBlocks, modifiedBlocks int, structure, injectionResults []byte) error
	FailAssembly(ctx context.Context, id, errorCode, errorMessage string) error
	CreateRendered(ctx context.Context, assembledID, outputPath, contentHash string, fileSize int64, blockCount int) (*store.RenderedDocument, error)
}

// VersionCommitter runs stage five. *versioning.Service satisfies it.
type VersionCommitter interface {
	Commit(ctx context.Context, documentID string, content []byte, contentType string, metadata store.JSONMap) (*versioning.CommitResult, error)
}

// GenerateHandler executes the five-stage generation pipeline for GENERATE
// and REGENERATE jobs. Every stage appends its ids to the job result as it
// completes, so a failed job's row shows exactly how far the run got.
type GenerateHandler struct {
	preparer  InputPreparer
	generator SectionGenerator
	templates TemplateVersions
	sections  SectionLister
	outputs   OutputReader
	assembled AssemblyStore
	renderer  render.Renderer
	versions  VersionCommitter
	objects   storage.ObjectStore
	auditor   *audit.Logger
	rec       metrics.Recorder
	log       *slog.Logger
}

func NewGenerateHandler(
	preparer InputPreparer,
	generator SectionGenerator,
	templates TemplateVersions,
	sections SectionLister,
	outputs OutputReader,
	assembled AssemblyStore,
	renderer render.Renderer,
	versions VersionCommitter,
	objects storage.ObjectStore,
	auditor *audit.Logger,
	rec metrics.Recorder,
	log *slog.Logger,
) *GenerateHandler {
	return &GenerateHandler{
		preparer:  preparer,
		generator: generator,
		templates: templates,
		sections:  sections,
		outputs:   outputs,
		assembled: assembled,
		renderer:  renderer,
		versions:  versions,
		objects:   objects,
		auditor:   auditor,
		rec:       rec,
		log:       log.With("component", "generate"),
	}
}

func (h *GenerateHandler) Handle(ctx context.Context, job *store.Job) (store.JSONMap, error) {
	documentID, err := payloadString(job.Payload, "document_id")
	if err != nil {
		return nil, err
	}
	templateVersionID, err := payloadString(job.Payload, "template_version_id")
	if err != nil {
		return nil, err
	}
	return h.run(ctx, runRequest{
		documentID:        documentID,
		templateVersionID: templateVersionID,
		versionIntent:     payloadOptionalInt(job.Payload, "version_intent"),
		clientData:        payloadOptionalMap(job.Payload, "client_data"),
		forceReassembly:   payloadOptionalBool(job.Payload, "force_reassembly"),
	})
}

// runRequest carries everything one pipeline run needs. A zero versionIntent
// means "the document's next version"; a nil regenerate set means every
// dynamic section generates fresh.
type runRequest struct {
	documentID        string
	templateVersionID string
	versionIntent     int
	clientData        store.JSONMap
	regenerate        map[int64]bool
	forceReassembly   bool
	correlationID     string
}

// run drives the pipeline. A non-nil regenerate set restricts fresh
// generation to those sections, carrying everything else over from the
// document's last successful run.
func (h *GenerateHandler) run(ctx context.Context, req runRequest) (store.JSONMap, error) {
	documentID := req.documentID
	state := store.JSONMap{"document_id": documentID}
	if req.correlationID != "" {
		state["correlation_id"] = req.correlationID
	}
	log := h.log.With("document_id", documentID)

	// Stage 1: freeze the inputs.
	stageStart := time.Now()
	batch, inputs, err := h.preparer.PrepareInputs(ctx, generation.PrepareRequest{
		DocumentID:        documentID,
		TemplateVersionID: req.templateVersionID,
		VersionIntent:     req.versionIntent,
		ClientData:        req.clientData,
	})
	h.rec.ObserveStageDuration(StageInputPreparation, time.Since(stageStart))
	if err != nil {
		return state, stageError(state, StageInputPreparation, err)
	}
	state["input_batch_id"] = batch.ID
	state["version_intent"] = batch.VersionIntent

	// Stage 2: generate section content.
	stageStart = time.Now()
	carryOver, err := h.carryOverContent(ctx, documentID, inputs, req.regenerate)
	if err != nil {
		h.rec.ObserveStageDuration(StageSectionGeneration, time.Since(stageStart))
		return state, stageError(state, StageSectionGeneration, err)
	}
	outputBatch, err := h.generator.GenerateSectionsWithCarryOver(ctx, batch.ID, inputs, carryOver)
	h.rec.ObserveStageDuration(StageSectionGeneration, time.Since(stageStart))
	if err != nil {
		return state, stageError(state, StageSectionGeneration, err)
	}
	state["output_batch_id"] = outputBatch.ID
	if outputBatch.Status != store.BatchValidated {
		return state, stageError(state, StageSectionGeneration,
			fmt.Errorf("%d of %d sections failed to generate", outputBatch.FailedCount, outputBatch.TotalOutputs))
	}

	// Stage 3: assemble and validate structure.
	stageStart = time.Now()
	result, assembledID, err := h.assemble(ctx, documentID, batch, outputBatch, req.forceReassembly)
	h.rec.ObserveStageDuration(StageDocumentAssembly, time.Since(stageStart))
	if assembledID != "" {
		state["assembled_document_id"] = assembledID
	}
	if err != nil {
		return state, stageError(state, StageDocumentAssembly, err)
	}
	state["assembly_hash"] = result.AssemblyHash

	// Stage 4: render the output artifact.
	stageStart = time.Now()
	content, renderedID, err := h.renderStage(ctx, documentID, assembledID, result)
	h.rec.ObserveStageDuration(StageDocumentRendering, time.Since(stageStart))
	if err != nil {
		return state, stageError(state, StageDocumentRendering, err)
	}
	state["rendered_document_id"] = renderedID

	// Stage 5: commit the version.
	stageStart = time.Now()
	commit, err := h.versions.Commit(ctx, documentID, content, h.renderer.ContentType(), store.JSONMap{
		"input_batch_id":        batch.ID,
		"output_batch_id":       outputBatch.ID,
		"assembled_document_id": assembledID,
		"rendered_document_id":  renderedID,
		"assembly_hash":         result.AssemblyHash,
	})
	h.rec.ObserveStageDuration(StageVersioning, time.Since(stageStart))
	if err != nil {
		return state, stageError(state, StageVersioning, err)
	}
	state["document_version"] = commit.Version.VersionNumber
	state["content_hash"] = commit.Version.ContentHash
	state["deduplicated"] = commit.Deduplicated

	log.Info("generation pipeline completed",
		"version", commit.Version.VersionNumber,
		"deduplicated", commit.Deduplicated)
	return state, nil
}

// carryOverContent resolves the content reused for sections outside the
// regenerate set. A document that has never generated has nothing to carry;
// every section generates fresh.
func (h *GenerateHandler) carryOverContent(ctx context.Context, documentID string, inputs []store.NewInput, regenerate map[int64]bool) (map[int64]string, error) {
	if regenerate == nil {
		return nil, nil
	}
	previous, err := h.outputs.LatestValidatedBatchForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, nil
	}
	prevOutputs, err := h.outputs.ListValidatedOutputs(ctx, previous.ID)
	if err != nil {
		return nil, err
	}
	prevContent := make(map[int64]string, len(prevOutputs))
	for _, out := range prevOutputs {
		if out.GeneratedContent != nil {
			prevContent[out.SectionID] = *out.GeneratedContent
		}
	}

	carry := make(map[int64]string)
	for _, in := range inputs {
		if regenerate[in.SectionID] {
			continue
		}
		if content, ok := prevContent[in.SectionID]; ok {
			carry[in.SectionID] = content
		}
	}
	return carry, nil
}

func (h *GenerateHandler) assemble(ctx context.Context, documentID string, batch *store.GenerationInputBatch, outputBatch *store.SectionOutputBatch, force bool) (*assembly.Result, string, error) {
	// A sealed assembly per output batch is final: refuse to build another
	// unless the caller forces it. Checked before any row is written.
	existing, err := h.assembled.FindValidatedByOutputBatch(ctx, outputBatch.ID)
	if err != nil {
		return nil, "", err
	}
	if existing != nil && !force {
		return nil, existing.ID, &assembly.Error{
			Code:    assembly.CodeAssemblyAlreadyExists,
			Message: fmt.Sprintf("output batch %s already has validated assembly %s", outputBatch.ID, existing.ID),
		}
	}

	record, err := h.assembled.CreateAssembly(ctx, documentID, batch.TemplateVersionID, batch.VersionIntent, outputBatch.ID)
	if err != nil {
		return nil, "", err
	}

	fail := func(aerr *assembly.Error) (*assembly.Result, string, error) {
		if perr := h.assembled.FailAssembly(ctx, record.ID, aerr.Code, aerr.Message); perr != nil {
			h.log.Error("recording assembly failure failed", "assembled_document_id", record.ID, "error", perr)
		}
		h.auditor.Record(ctx, audit.EntityAssembledDocument, record.ID, audit.ActionDocumentAssemblyFailed, store.JSONMap{
			"error_code": aerr.Code,
			"error":      aerr.Message,
		})
		return nil, record.ID, aerr
	}

	if aerr := assembly.CheckPreconditions(batch, outputBatch); aerr != nil {
		return fail(aerr)
	}

	parsed, err := h.loadParsed(ctx, batch.TemplateVersionID)
	if err != nil {
		return fail(&assembly.Error{Code: assembly.CodeMissingParsedTemplate, Message: err.Error()})
	}
	sections, err := h.sections.ListByVersion(ctx, batch.TemplateVersionID)
	if err != nil {
		return nil, record.ID, err
	}
	outputs, err := h.outputs.ListOutputs(ctx, outputBatch.ID)
	if err != nil {
		return nil, record.ID, err
	}

	identity := assembly.Identity{
		DocumentID:        documentID,
		TemplateVersionID: batch.TemplateVersionID,
		VersionIntent:     batch.VersionIntent,
		OutputBatchID:     outputBatch.ID,
	}
	result, aerr := assembly.Assemble(identity, parsed, sections, outputs)
	if aerr != nil {
		return fail(aerr)
	}

	structure, err := result.MarshalStructure()
	if err != nil {
		return nil, record.ID, err
	}
	injections, err := result.MarshalInjections()
	if err != nil {
		return nil, record.ID, err
	}
	if err := h.assembled.CompleteAssembly(ctx, record.ID, result.AssemblyHash,
		result.TotalBlocks, result.ModifiedBlocks, structure, injections); err != nil {
		return nil, record.ID, err
	}

	h.auditor.Record(ctx, audit.EntityAssembledDocument, record.ID, audit.ActionDocumentAssemblyCompleted, store.JSONMap{
		"assembly_hash":   result.AssemblyHash,
		"total_blocks":    result.TotalBlocks,
		"modified_blocks": result.ModifiedBlocks,
	})
	return result, record.ID, nil
}

func (h *GenerateHandler) renderStage(ctx context.Context, documentID, assembledID string, result *assembly.Result) ([]byte, string, error) {
	content, err := h.renderer.Render(ctx, &render.Document{
		DocumentID:   documentID,
		AssemblyHash: result.AssemblyHash,
		Blocks:       result.Blocks,
	})
	if err != nil {
		h.auditor.Record(ctx, audit.EntityAssembledDocument, assembledID, audit.ActionDocumentRenderingFailed, store.JSONMap{
			"error": err.Error(),
		})
		return nil, "", err
	}

	stagingKey := storage.RenderedStagingKey(assembledID)
	if err := h.objects.Put(ctx, stagingKey, content, h.renderer.ContentType()); err != nil {
		return nil, "", fmt.Errorf("store rendered artifact: %w", err)
	}
	rendered, err := h.assembled.CreateRendered(ctx, assembledID, stagingKey,
		hashing.SHA256Hex(content), int64(len(content)), result.TotalBlocks)
	if err != nil {
		return nil, "", err
	}

	h.auditor.Record(ctx, audit.EntityRenderedDocument, rendered.ID, audit.ActionDocumentRenderingCompleted, store.JSONMap{
		"output_path": stagingKey,
		"file_size":   len(content),
		"block_count": result.TotalBlocks,
	})
	return content, rendered.ID, nil
}

func (h *GenerateHandler) loadParsed(ctx context.Context, templateVersionID string) (*docmodel.ParsedDocument, error) {
	tv, err := h.templates.GetVersion(ctx, templateVersionID)
	if err != nil {
		return nil, err
	}
	if tv.ParsedPath == nil {
		return nil, errors.New("template version has no parsed artifact")
	}
	data, err := h.objects.Get(ctx, *tv.ParsedPath)
	if err != nil {
		return nil, fmt.Errorf("load parsed template: %w", err)
	}
	return docmodel.UnmarshalParsedDocument(data)
}
