package classify

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/docforge/internal/audit"
	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/storage"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// TemplateVersions is the slice of the template repository the service
// needs. *store.TemplateRepo satisfies it.
type TemplateVersions interface {
	GetVersion(ctx context.Context, id string) (*store.TemplateVersion, error)
}

// Sections persists classification results. *store.SectionRepo satisfies it.
type Sections interface {
	CreateAll(ctx context.Context, templateVersionID string, sections []store.NewSection) error
}

// Service classifies every block of a parsed template version and persists
// one section record per block.
type Service struct {
	engine    *Engine
	templates TemplateVersions
	sections  Sections
	objects   storage.ObjectStore
	auditor   *audit.Logger
	log       *slog.Logger
}

func NewService(engine *Engine, templates TemplateVersions, sections Sections, objects storage.ObjectStore, auditor *audit.Logger, log *slog.Logger) *Service {
	return &Service{
		engine:    engine,
		templates: templates,
		sections:  sections,
		objects:   objects,
		auditor:   auditor,
		log:       log.With("component", "classify"),
	}
}

// Result summarises one classification run.
type Result struct {
	TotalSections   int `json:"total_sections"`
	StaticSections  int `json:"static_sections"`
	DynamicSections int `json:"dynamic_sections"`
}

// ClassifyVersion loads the parsed artifact, classifies each block, and
// persists the sections in one shot. A version must have completed parsing;
// a version already classified is rejected by the section repository's
// write-once rule.
func (s *Service) ClassifyVersion(ctx context.Context, templateVersionID string) (*Result, error) {
	tv, err := s.templates.GetVersion(ctx, templateVersionID)
	if err != nil {
		return nil, err
	}
	if tv.ParsingStatus != store.ParsingCompleted || tv.ParsedPath == nil {
		return nil, fmt.Errorf("template version %s has not completed parsing (status %s)", templateVersionID, tv.ParsingStatus)
	}

	data, err := s.objects.Get(ctx, *tv.ParsedPath)
	if err != nil {
		return nil, fmt.Errorf("load parsed template: %w", err)
	}
	doc, err := docmodel.UnmarshalParsedDocument(data)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("parsed template is invalid: %w", err)
	}

	result := Result{TotalSections: len(doc.Blocks)}
	rows := make([]store.NewSection, 0, len(doc.Blocks))
	for i := range doc.Blocks {
		b := &doc.Blocks[i]
		c := s.engine.Classify(ctx, b)

		row := store.NewSection{
			SectionType:    c.SectionType,
			StructuralPath: b.BlockID,
		}
		if c.SectionType == store.SectionDynamic {
			result.DynamicSections++
			row.PromptConfig = promptConfigFor(b, c)
		} else {
			result.StaticSections++
		}
		rows = append(rows, row)

		s.log.Debug("block classified",
			"template_version_id", templateVersionID,
			"block_id", b.BlockID,
			"section_type", c.SectionType,
			"confidence", c.Confidence,
			"method", c.Method)
	}

	if err := s.sections.CreateAll(ctx, templateVersionID, rows); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.EntityTemplateVersion, templateVersionID, audit.ActionCreate, store.JSONMap{
		"event":            "sections_classified",
		"total_sections":   result.TotalSections,
		"static_sections":  result.StaticSections,
		"dynamic_sections": result.DynamicSections,
	})
	s.log.Info("template version classified",
		"template_version_id", templateVersionID,
		"total", result.TotalSections,
		"static", result.StaticSections,
		"dynamic", result.DynamicSections)
	return &result, nil
}

// promptConfigFor builds the generation prompt configuration stored with a
// DYNAMIC section. The template text becomes the instruction seed; the
// classification provenance travels with it.
func promptConfigFor(b *docmodel.Block, c Classification) store.JSONMap {
	return store.JSONMap{
		"prompt_template":           b.Text(),
		"block_type":                string(b.Type),
		"heading_level":             b.Level,
		"classification_method":     string(c.Method),
		"classification_confidence": c.Confidence,
		"justification":             c.Reason,
	}
}
