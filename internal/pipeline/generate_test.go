package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type nullJournal struct{}

func (nullJournal) Append(context.Context, string, string, string, store.JSONMap) error { return nil }

// harness wires a GenerateHandler over in-memory fakes. The parsed template
// has one static heading and two dynamic paragraphs (sections 2 and 3).
type harness struct {
	objects   *storage.MemStore
	preparer  *fakePreparer
	generator *fakeGenerator
	outputs   *fakeOutputReader
	assembled *fakeAssembledRepo
	committer *fakeCommitter
	handler   *GenerateHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	objects := storage.NewMemStore()

	parsed := &docmodel.ParsedDocument{
		TemplateVersionID: "tv-1",
		ContentHash:       "tmpl-hash",
		Blocks: []docmodel.Block{
			{BlockID: "body/block/0", Sequence: 0, Type: docmodel.BlockTypeHeading, Level: 1,
				Runs: []docmodel.Run{{Text: "Report"}}},
			{BlockID: "body/block/1", Sequence: 1, Type: docmodel.BlockTypeParagraph,
				Runs: []docmodel.Run{{Text: "Write the summary"}}},
			{BlockID: "body/block/2", Sequence: 2, Type: docmodel.BlockTypeParagraph,
				Runs: []docmodel.Run{{Text: "Write the outlook"}}},
		},
	}
	data, err := parsed.Marshal()
	require.NoError(t, err)
	parsedPath := storage.TemplateParsedKey("t-1", 1)
	require.NoError(t, objects.Put(context.Background(), parsedPath, data, storage.ContentTypeJSON))

	generator := &fakeGenerator{failOn: map[int64]bool{}}
	outputs := &fakeOutputReader{generator: generator}
	h := &harness{
		objects:   objects,
		preparer:  &fakePreparer{},
		generator: generator,
		outputs:   outputs,
		assembled: &fakeAssembledRepo{},
		committer: &fakeCommitter{},
	}
	h.handler = NewGenerateHandler(
		h.preparer,
		h.generator,
		fakeTemplates{parsedPath: parsedPath},
		fakeSections{},
		h.outputs,
		h.assembled,
		render.NewReferenceRenderer(),
		h.committer,
		objects,
		audit.NewLogger(nullJournal{}, slog.Default()),
		metrics.NoopRecorder{},
		slog.Default(),
	)
	return h
}

type fakePreparer struct {
	err error
	req generation.PrepareRequest
}

func (f *fakePreparer) PrepareInputs(_ context.Context, req generation.PrepareRequest) (*store.GenerationInputBatch, []store.NewInput, error) {
	f.req = req
	if f.err != nil {
		return nil, nil, f.err
	}
	intent := req.VersionIntent
	if intent <= 0 {
		intent = 1
	}
	hash := "batch-hash"
	batch := &store.GenerationInputBatch{
		ID:                "ib-1",
		DocumentID:        req.DocumentID,
		TemplateVersionID: "tv-1",
		VersionIntent:     intent,
		Status:            store.BatchValidated,
		ContentHash:       &hash,
		TotalInputs:       2,
		IsImmutable:       true,
	}
	inputs := []store.NewInput{
		{SectionID: 2, SequenceOrder: 0, Snapshot: store.JSONMap{"prompt_config": map[string]any{"prompt_template": "summary"}}, InputHash: "h2"},
		{SectionID: 3, SequenceOrder: 1, Snapshot: store.JSONMap{"prompt_config": map[string]any{"prompt_template": "outlook"}}, InputHash: "h3"},
	}
	return batch, inputs, nil
}

type fakeGenerator struct {
	failOn    map[int64]bool
	carryOver map[int64]string
	outputs   []store.SectionOutput
	batch     *store.SectionOutputBatch
}

func (f *fakeGenerator) GenerateSectionsWithCarryOver(_ context.Context, inputBatchID string, inputs []store.NewInput, carryOver map[int64]string) (*store.SectionOutputBatch, error) {
	f.carryOver = carryOver
	f.batch = &store.SectionOutputBatch{
		ID:           "ob-1",
		InputBatchID: inputBatchID,
		TotalOutputs: len(inputs),
	}
	for _, in := range inputs {
		if f.failOn[in.SectionID] {
			msg := "model unavailable"
			f.outputs = append(f.outputs, store.SectionOutput{
				SectionID: in.SectionID, Status: store.OutputFailed, Error: &msg,
			})
			f.batch.FailedCount++
			continue
		}
		content := fmt.Sprintf("fresh-%d", in.SectionID)
		if carried, ok := carryOver[in.SectionID]; ok {
			content = carried
		}
		hash := hashing.TextHash(content)
		f.outputs = append(f.outputs, store.SectionOutput{
			SectionID:        in.SectionID,
			Status:           store.OutputValidated,
			GeneratedContent: &content,
			ContentHash:      &hash,
			IsValidated:      true,
		})
	}
	if f.batch.FailedCount > 0 {
		f.batch.Status = store.BatchFailed
	} else {
		f.batch.Status = store.BatchValidated
	}
	return f.batch, nil
}

type fakeOutputReader struct {
	generator     *fakeGenerator
	previousBatch *store.SectionOutputBatch
	previousOut   []store.SectionOutput
}

func (f *fakeOutputReader) ListOutputs(context.Context, string) ([]store.SectionOutput, error) {
	return f.generator.outputs, nil
}

func (f *fakeOutputReader) ListValidatedOutputs(_ context.Context, batchID string) ([]store.SectionOutput, error) {
	if f.previousBatch != nil && batchID == f.previousBatch.ID {
		return f.previousOut, nil
	}
	var out []store.SectionOutput
	for _, o := range f.generator.outputs {
		if o.IsValidated {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOutputReader) LatestValidatedBatchForDocument(context.Context, string) (*store.SectionOutputBatch, error) {
	return f.previousBatch, nil
}

type fakeTemplates struct{ parsedPath string }

func (f fakeTemplates) GetVersion(context.Context, string) (*store.TemplateVersion, error) {
	return &store.TemplateVersion{
		ID: "tv-1", TemplateID: "t-1", VersionNumber: 1,
		ParsingStatus: store.ParsingCompleted, ParsedPath: &f.parsedPath,
	}, nil
}

type fakeSections struct{}

func (fakeSections) ListByVersion(context.Context, string) ([]store.Section, error) {
	return []store.Section{
		{ID: 1, SectionType: store.SectionStatic, StructuralPath: "body/block/0"},
		{ID: 2, SectionType: store.SectionDynamic, StructuralPath: "body/block/1",
			PromptConfig: store.JSONMap{"prompt_template": "summary"}},
		{ID: 3, SectionType: store.SectionDynamic, StructuralPath: "body/block/2",
			PromptConfig: store.JSONMap{"prompt_template": "outlook"}},
	}, nil
}

type fakeAssembledRepo struct {
	existing   *store.AssembledDocument
	created    bool
	failedCode string
	completed  bool
	rendered   *store.RenderedDocument
}

func (f *fakeAssembledRepo) FindValidatedByOutputBatch(context.Context, string) (*store.AssembledDocument, error) {
	return f.existing, nil
}

func (f *fakeAssembledRepo) CreateAssembly(_ context.Context, documentID, templateVersionID string, versionIntent int, outputBatchID string) (*store.AssembledDocument, error) {
	f.created = true
	return &store.AssembledDocument{
		ID: "ad-1", DocumentID: documentID, TemplateVersionID: templateVersionID,
		VersionIntent: versionIntent, SectionOutputBatchID: outputBatchID,
		Status: store.AssemblyInProgress,
	}, nil
}

func (f *fakeAssembledRepo) CompleteAssembly(context.Context, string, string, int, int, []byte, []byte) error {
	f.completed = true
	return nil
}

func (f *fakeAssembledRepo) FailAssembly(_ context.Context, _ string, code, _ string) error {
	f.failedCode = code
	return nil
}

func (f *fakeAssembledRepo) CreateRendered(_ context.Context, assembledID, outputPath, contentHash string, fileSize int64, blockCount int) (*store.RenderedDocument, error) {
	f.rendered = &store.RenderedDocument{
		ID: "rd-1", AssembledDocumentID: assembledID, OutputPath: outputPath,
		ContentHash: contentHash, FileSize: fileSize, BlockCount: blockCount,
	}
	return f.rendered, nil
}

type fakeCommitter struct {
	committed []byte
	metadata  store.JSONMap
	err       error
}

func (f *fakeCommitter) Commit(_ context.Context, documentID string, content []byte, _ string, metadata store.JSONMap) (*versioning.CommitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.committed = content
	f.metadata = metadata
	return &versioning.CommitResult{
		Version: &store.DocumentVersion{
			ID: "dv-1", DocumentID: documentID, VersionNumber: 1,
			ContentHash: hashing.SHA256Hex(content),
		},
	}, nil
}

func generateJob() *store.Job {
	return &store.Job{
		ID: "job-1", Type: store.JobTypeGenerate,
		Payload: store.JSONMap{
			"document_id":         "doc-1",
			"template_version_id": "tv-1",
		},
	}
}

func TestGenerateRunsAllFiveStages(t *testing.T) {
	h := newHarness(t)
	state, err := h.handler.Handle(context.Background(), generateJob())
	require.NoError(t, err)

	assert.Equal(t, "ib-1", state["input_batch_id"])
	assert.Equal(t, "ob-1", state["output_batch_id"])
	assert.Equal(t, "ad-1", state["assembled_document_id"])
	assert.Equal(t, "rd-1", state["rendered_document_id"])
	assert.Equal(t, 1, state["document_version"])
	assert.NotContains(t, state, "failed_stage")

	assert.True(t, h.assembled.completed)
	assert.NotEmpty(t, h.committer.committed)
	assert.Equal(t, "ib-1", h.committer.metadata["input_batch_id"])

	// Rendering staged its artifact before versioning committed.
	stored, err := h.objects.Get(context.Background(), storage.RenderedStagingKey("ad-1"))
	require.NoError(t, err)
	assert.Equal(t, h.committer.committed, stored)
}

func TestGenerateAttributesInputPreparationFailure(t *testing.T) {
	h := newHarness(t)
	h.preparer.err = errors.New("document not found")

	state, err := h.handler.Handle(context.Background(), generateJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), StageInputPreparation+":")
	assert.Equal(t, StageInputPreparation, state["failed_stage"])
	assert.NotContains(t, state, "input_batch_id")
}

func TestGenerateAttributesSectionGenerationFailure(t *testing.T) {
	h := newHarness(t)
	h.generator.failOn[3] = true

	state, err := h.handler.Handle(context.Background(), generateJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), StageSectionGeneration+":")
	assert.Contains(t, err.Error(), "1 of 2 sections failed")
	assert.Equal(t, StageSectionGeneration, state["failed_stage"])
	assert.Equal(t, "ib-1", state["input_batch_id"], "stage one progress survives in the result")
	assert.Equal(t, "ob-1", state["output_batch_id"])
}

func TestGenerateAttributesAssemblyFailure(t *testing.T) {
	h := newHarness(t)
	// Force the precondition check to fail: the generator reports VALIDATED
	// only when the batch it returns says so.
	h.generator.failOn[2] = true
	h.generator.failOn[3] = true

	state, err := h.handler.Handle(context.Background(), generateJob())
	require.Error(t, err)
	// Both sections failing stops the run in stage two, before assembly.
	assert.Equal(t, StageSectionGeneration, state["failed_stage"])
}

func TestGenerateAssemblyFailureIsPersisted(t *testing.T) {
	h := newHarness(t)
	// Sabotage the stored parsed template so assembly sees a drifted block
	// list while generation still succeeds.
	broken := &docmodel.ParsedDocument{
		TemplateVersionID: "tv-1",
		ContentHash:       "tmpl-hash",
		Blocks: []docmodel.Block{
			{BlockID: "body/block/0", Sequence: 0, Type: docmodel.BlockTypeHeading,
				Runs: []docmodel.Run{{Text: "Report"}}},
		},
	}
	data, err := broken.Marshal()
	require.NoError(t, err)
	require.NoError(t, h.objects.Put(context.Background(),
		storage.TemplateParsedKey("t-1", 1), data, storage.ContentTypeJSON))

	state, err := h.handler.Handle(context.Background(), generateJob())
	require.Error(t, err)
	assert.Equal(t, StageDocumentAssembly, state["failed_stage"])
	assert.Equal(t, "ad-1", state["assembled_document_id"])
	assert.Equal(t, assembly.CodeOrphanedBlock, h.assembled.failedCode)
}

func TestGenerateRequiresTemplateVersionID(t *testing.T) {
	h := newHarness(t)
	job := generateJob()
	delete(job.Payload, "template_version_id")

	_, err := h.handler.Handle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template_version_id")
}

func TestGenerateThreadsClientDataAndIntent(t *testing.T) {
	h := newHarness(t)
	job := generateJob()
	job.Payload["version_intent"] = float64(4)
	job.Payload["client_data"] = map[string]any{
		"client_id":   "acme",
		"client_name": "Acme Corp",
	}

	_, err := h.handler.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", h.preparer.req.DocumentID)
	assert.Equal(t, "tv-1", h.preparer.req.TemplateVersionID)
	assert.Equal(t, 4, h.preparer.req.VersionIntent)
	assert.Equal(t, "acme", h.preparer.req.ClientData["client_id"])
	assert.Equal(t, "Acme Corp", h.preparer.req.ClientData["client_name"])
}

func TestGenerateMissingParsedArtifactFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.objects.Delete(context.Background(), storage.TemplateParsedKey("t-1", 1))
	require.NoError(t, err)

	state, err := h.handler.Handle(context.Background(), generateJob())
	require.Error(t, err)
	assert.Equal(t, StageDocumentAssembly, state["failed_stage"])
	assert.Equal(t, assembly.CodeMissingParsedTemplate, h.assembled.failedCode)
}

func TestGenerateRefusesReassemblyOfSealedBatch(t *testing.T) {
	h := newHarness(t)
	h.assembled.existing = &store.AssembledDocument{
		ID: "ad-0", SectionOutputBatchID: "ob-1", Status: store.AssemblyValidated, IsImmutable: true,
	}

	state, err := h.handler.Handle(context.Background(), generateJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), assembly.CodeAssemblyAlreadyExists)
	assert.Equal(t, StageDocumentAssembly, state["failed_stage"])
	assert.False(t, h.assembled.created, "a refused run writes no new assembly row")
}

func TestGenerateForceReassemblySupersedesSealedBatch(t *testing.T) {
	h := newHarness(t)
	h.assembled.existing = &store.AssembledDocument{
		ID: "ad-0", SectionOutputBatchID: "ob-1", Status: store.AssemblyValidated, IsImmutable: true,
	}

	job := generateJob()
	job.Payload["force_reassembly"] = true
	_, err := h.handler.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, h.assembled.created)
	assert.True(t, h.assembled.completed)
}

func TestGenerateAttributesVersioningFailure(t *testing.T) {
	h := newHarness(t)
	h.committer.err = &versioning.Error{Code: versioning.CodeStorageFailed, Message: "disk gone"}

	state, err := h.handler.Handle(context.Background(), generateJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), StageVersioning+":")
	assert.Equal(t, StageVersioning, state["failed_stage"])
	assert.Equal(t, "rd-1", state["rendered_document_id"])
}

func TestRegenerateSectionsCarriesUnchangedContent(t *testing.T) {
	h := newHarness(t)
	prevContent := "previous outlook text"
	prevHash := hashing.TextHash(prevContent)
	h.outputs.previousBatch = &store.SectionOutputBatch{ID: "ob-0", Status: store.BatchValidated}
	h.outputs.previousOut = []store.SectionOutput{
		{SectionID: 2, GeneratedContent: strPtr("previous summary text"), ContentHash: strPtr("x"), IsValidated: true},
		{SectionID: 3, GeneratedContent: &prevContent, ContentHash: &prevHash, IsValidated: true},
	}

	handler := NewRegenerateSectionsHandler(h.handler)
	job := &store.Job{
		ID: "job-2", Type: store.JobTypeRegenerateSections,
		Payload: store.JSONMap{
			"document_id":    "doc-1",
			"version_intent": float64(2),
			"section_ids":    []any{float64(2)},
		},
	}
	_, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)

	// Section 2 regenerated fresh, section 3 carried over.
	require.NotNil(t, h.generator.carryOver)
	assert.NotContains(t, h.generator.carryOver, int64(2))
	assert.Equal(t, prevContent, h.generator.carryOver[int64(3)])
}

func TestRegenerateSectionsWithoutHistoryGeneratesEverything(t *testing.T) {
	h := newHarness(t)
	handler := NewRegenerateSectionsHandler(h.handler)
	job := &store.Job{
		ID: "job-2", Type: store.JobTypeRegenerateSections,
		Payload: store.JSONMap{
			"document_id":    "doc-1",
			"version_intent": float64(2),
			"section_ids":    []any{float64(2)},
		},
	}
	_, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, h.generator.carryOver)
}

func TestRegenerateRequiresVersionIntent(t *testing.T) {
	h := newHarness(t)
	handler := NewRegenerateHandler(h.handler)
	job := &store.Job{
		ID: "job-2", Type: store.JobTypeRegenerate,
		Payload: store.JSONMap{"document_id": "doc-1"},
	}
	_, err := handler.Handle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version_intent")
}

func TestRegenerateThreadsClientData(t *testing.T) {
	h := newHarness(t)
	handler := NewRegenerateHandler(h.handler)
	job := &store.Job{
		ID: "job-2", Type: store.JobTypeRegenerate,
		Payload: store.JSONMap{
			"document_id":    "doc-1",
			"version_intent": float64(2),
			"client_data":    map[string]any{"client_id": "acme"},
			"correlation_id": "corr-7",
		},
	}
	state, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, h.preparer.req.VersionIntent)
	assert.Equal(t, "acme", h.preparer.req.ClientData["client_id"])
	assert.Equal(t, "corr-7", state["correlation_id"])
}

func TestRegenerateSectionsRejectsOverlappingReuse(t *testing.T) {
	h := newHarness(t)
	handler := NewRegenerateSectionsHandler(h.handler)
	job := &store.Job{
		ID: "job-2", Type: store.JobTypeRegenerateSections,
		Payload: store.JSONMap{
			"document_id":       "doc-1",
			"version_intent":    float64(2),
			"section_ids":       []any{float64(2)},
			"reuse_section_ids": []any{float64(2)},
		},
	}
	_, err := handler.Handle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reuse_section_ids")
}

func strPtr(s string) *string { return &s }
