package pipeline

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/docforge/internal/store"
)

// RegenerateHandler runs REGENERATE jobs: a full pipeline run producing the
// named version of an already-generated document. Unlike GENERATE, the
// template version comes from the document's binding and the version intent
// is mandatory.
type RegenerateHandler struct {
	inner *GenerateHandler
}

func NewRegenerateHandler(inner *GenerateHandler) *RegenerateHandler {
	return &RegenerateHandler{inner: inner}
}

func (h *RegenerateHandler) Handle(ctx context.Context, job *store.Job) (store.JSONMap, error) {
	documentID, err := payloadString(job.Payload, "document_id")
	if err != nil {
		return nil, err
	}
	versionIntent := payloadOptionalInt(job.Payload, "version_intent")
	if versionIntent <= 0 {
		return nil, fmt.Errorf("job payload is missing %q", "version_intent")
	}
	return h.inner.run(ctx, runRequest{
		documentID:      documentID,
		versionIntent:   versionIntent,
		clientData:      payloadOptionalMap(job.Payload, "client_data"),
		forceReassembly: payloadOptionalBool(job.Payload, "force_reassembly"),
		correlationID:   payloadOptionalString(job.Payload, "correlation_id"),
	})
}

// RegenerateSectionsHandler runs REGENERATE_SECTIONS jobs: only the named
// sections generate fresh content; every other dynamic section carries its
// content over from the document's last successful run. Reassembly is always
// forced, a partial regeneration exists to supersede earlier output.
type RegenerateSectionsHandler struct {
	inner *GenerateHandler
}

func NewRegenerateSectionsHandler(inner *GenerateHandler) *RegenerateSectionsHandler {
	return &RegenerateSectionsHandler{inner: inner}
}

func (h *RegenerateSectionsHandler) Handle(ctx context.Context, job *store.Job) (store.JSONMap, error) {
	documentID, err := payloadString(job.Payload, "document_id")
	if err != nil {
		return nil, err
	}
	versionIntent := payloadOptionalInt(job.Payload, "version_intent")
	if versionIntent <= 0 {
		return nil, fmt.Errorf("job payload is missing %q", "version_intent")
	}
	sectionIDs, err := payloadInt64Slice(job.Payload, "section_ids")
	if err != nil {
		return nil, err
	}
	reuseIDs, err := payloadOptionalInt64Slice(job.Payload, "reuse_section_ids")
	if err != nil {
		return nil, err
	}

	regenerate := make(map[int64]bool, len(sectionIDs))
	for _, id := range sectionIDs {
		regenerate[id] = true
	}
	for _, id := range reuseIDs {
		if regenerate[id] {
			return nil, fmt.Errorf("section %d listed in both section_ids and reuse_section_ids", id)
		}
	}

	return h.inner.run(ctx, runRequest{
		documentID:        documentID,
		templateVersionID: payloadOptionalString(job.Payload, "template_version_id"),
		versionIntent:     versionIntent,
		clientData:        payloadOptionalMap(job.Payload, "client_data"),
		regenerate:        regenerate,
		forceReassembly:   true,
		correlationID:     payloadOptionalString(job.Payload, "correlation_id"),
	})
}
