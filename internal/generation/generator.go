package generation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"git.home.luguber.info/inful/docforge/internal/audit"
	"git.home.luguber.info/inful/docforge/internal/hashing"
	"git.home.luguber.info/inful/docforge/internal/llm"
	"git.home.luguber.info/inful/docforge/internal/store"
)

const generateSystemPrompt = `You write the content for one section of a document.
Produce only the section text itself: no markdown fences, no preamble, no commentary.
Match the register of the surrounding document context you are given.`

// maxGeneratedRunes bounds a single section's output. Content past the
// bound is a generation failure, not a truncation: silently shortened
// content would defeat content addressing.
const maxGeneratedRunes = 20000

// Outputs persists generation results. *store.OutputRepo satisfies it.
type Outputs interface {
	CreateOutputBatch(ctx context.Context, inputBatchID string, sectionIDs []int64) (*store.SectionOutputBatch, error)
	RecordOutput(ctx context.Context, outputBatchID string, sectionID int64, content, contentHash string) error
	RecordFailure(ctx context.Context, outputBatchID string, sectionID int64, errMsg string) error
	FinalizeBatch(ctx context.Context, outputBatchID string) (*store.SectionOutputBatch, error)
}

// Generator runs the model over a validated input batch, one section at a
// time in sequence order. Per-section failures are recorded and generation
// continues; the batch outcome reflects the failure count.
type Generator struct {
	client  llm.Client
	outputs Outputs
	auditor *audit.Logger
	log     *slog.Logger
}

func NewGenerator(client llm.Client, outputs Outputs, auditor *audit.Logger, log *slog.Logger) *Generator {
	return &Generator{
		client:  client,
		outputs: outputs,
		auditor: auditor,
		log:     log.With("component", "section-generation"),
	}
}

// GenerateSections produces content for every input of the batch. The
// returned batch is finalized: VALIDATED when all sections generated,
// FAILED otherwise.
func (g *Generator) GenerateSections(ctx context.Context, inputBatchID string, inputs []store.NewInput) (*store.SectionOutputBatch, error) {
	return g.GenerateSectionsWithCarryOver(ctx, inputBatchID, inputs, nil)
}

// GenerateSectionsWithCarryOver generates like GenerateSections, except
// sections present in carryOver reuse the given content verbatim instead of
// calling the model. Section regeneration uses this to keep unchanged
// sections stable across runs.
func (g *Generator) GenerateSectionsWithCarryOver(ctx context.Context, inputBatchID string, inputs []store.NewInput, carryOver map[int64]string) (*store.SectionOutputBatch, error) {
	sectionIDs := make([]int64, len(inputs))
	for i, in := range inputs {
		sectionIDs[i] = in.SectionID
	}
	batch, err := g.outputs.CreateOutputBatch(ctx, inputBatchID, sectionIDs)
	if err != nil {
		return nil, err
	}

	for _, in := range inputs {
		var content string
		var err error
		if carried, ok := carryOver[in.SectionID]; ok {
			content = carried
		} else {
			content, err = g.generateOne(ctx, in)
		}
		if err != nil {
			g.log.Warn("section generation failed",
				"output_batch_id", batch.ID, "section_id", in.SectionID, "error", err)
			if rerr := g.outputs.RecordFailure(ctx, batch.ID, in.SectionID, err.Error()); rerr != nil {
				return nil, rerr
			}
			g.auditor.Record(ctx, audit.EntitySectionOutputBatch, batch.ID, audit.ActionSectionGenerationFailed, store.JSONMap{
				"section_id": in.SectionID,
				"error":      err.Error(),
			})
			continue
		}

		hash := hashing.TextHash(content)
		if err := g.outputs.RecordOutput(ctx, batch.ID, in.SectionID, content, hash); err != nil {
			return nil, err
		}
		g.auditor.Record(ctx, audit.EntitySectionOutputBatch, batch.ID, audit.ActionSectionGenerationCompleted, store.JSONMap{
			"section_id":   in.SectionID,
			"content_hash": hash,
		})
	}

	final, err := g.outputs.FinalizeBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	action := audit.ActionBatchGenerationCompleted
	if final.Status == store.BatchFailed {
		action = audit.ActionBatchGenerationFailed
	}
	g.auditor.Record(ctx, audit.EntitySectionOutputBatch, final.ID, action, store.JSONMap{
		"input_batch_id": inputBatchID,
		"total_outputs":  final.TotalOutputs,
		"failed_count":   final.FailedCount,
	})
	g.log.Info("output batch finalized",
		"output_batch_id", final.ID,
		"status", final.Status,
		"total", final.TotalOutputs,
		"failed", final.FailedCount)
	return final, nil
}

func (g *Generator) generateOne(ctx context.Context, in store.NewInput) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("no model client configured")
	}
	prompt, err := promptFromSnapshot(in.Snapshot)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		System:      generateSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   4096,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("model completion: %w", err)
	}

	content := strings.TrimSpace(resp.Text)
	if content == "" {
		return "", fmt.Errorf("model returned empty content")
	}
	if n := len([]rune(content)); n > maxGeneratedRunes {
		return "", fmt.Errorf("generated content too long: %d runes", n)
	}
	return content, nil
}

// promptFromSnapshot rebuilds the generation prompt from the frozen input.
// Only snapshot fields are consulted, never live rows, so a replayed batch
// sends the model the exact bytes of the original run.
func promptFromSnapshot(snapshot store.JSONMap) (string, error) {
	cfg, _ := snapshot["prompt_config"].(map[string]any)
	if cfg == nil {
		return "", fmt.Errorf("snapshot has no prompt_config")
	}
	instruction, _ := cfg["prompt_template"].(string)
	if instruction == "" {
		return "", fmt.Errorf("snapshot prompt_config has no prompt_template")
	}

	var sb strings.Builder
	if trail := stringSlice(snapshot["heading_trail"]); len(trail) > 0 {
		fmt.Fprintf(&sb, "Document section: %s\n", strings.Join(trail, " > "))
	}
	if before, ok := snapshot["context_before"].(string); ok && before != "" {
		fmt.Fprintf(&sb, "Preceding text: %s\n", before)
	}
	if after, ok := snapshot["context_after"].(string); ok && after != "" {
		fmt.Fprintf(&sb, "Following text: %s\n", after)
	}
	writeClientData(&sb, snapshot["client_data"])
	fmt.Fprintf(&sb, "\nInstruction: %s\n", instruction)
	return sb.String(), nil
}

// writeClientData appends the non-empty parts of the frozen client data so
// two clients' runs over the same template produce different prompts.
func writeClientData(sb *strings.Builder, v any) {
	cd, _ := v.(map[string]any)
	if cd == nil {
		return
	}
	if name, ok := cd["client_name"].(string); ok && name != "" {
		fmt.Fprintf(sb, "Client: %s\n", name)
	}
	if fields, ok := cd["data_fields"].(map[string]any); ok && len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Client data:\n")
		for _, k := range keys {
			fmt.Fprintf(sb, "  %s: %v\n", k, fields[k])
		}
	}
	if cc, ok := cd["custom_context"].(string); ok && cc != "" {
		fmt.Fprintf(sb, "Additional context: %s\n", cc)
	}
}

// stringSlice handles both in-memory snapshots ([]string) and snapshots
// rehydrated from JSON columns ([]any).
func stringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
