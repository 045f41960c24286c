package pipeline

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/docforge/internal/classify"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// Classifier is the classification service surface. *classify.Service
// satisfies it.
type Classifier interface {
	ClassifyVersion(ctx context.Context, templateVersionID string) (*classify.Result, error)
}

// ClassifyHandler runs CLASSIFY jobs.
type ClassifyHandler struct {
	classifier Classifier
	log        *slog.Logger
}

func NewClassifyHandler(classifier Classifier, log *slog.Logger) *ClassifyHandler {
	return &ClassifyHandler{classifier: classifier, log: log.With("component", "classify-handler")}
}

func (h *ClassifyHandler) Handle(ctx context.Context, job *store.Job) (store.JSONMap, error) {
	templateVersionID, err := payloadString(job.Payload, "template_version_id")
	if err != nil {
		return nil, err
	}
	result, err := h.classifier.ClassifyVersion(ctx, templateVersionID)
	if err != nil {
		return nil, err
	}
	return store.JSONMap{
		"total_sections":   result.TotalSections,
		"static_sections":  result.StaticSections,
		"dynamic_sections": result.DynamicSections,
	}, nil
}
