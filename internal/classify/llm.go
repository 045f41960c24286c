package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/llm"
	"git.home.luguber.info/inful/docforge/internal/store"
)

const classifySystemPrompt = `You classify blocks of a document template as STATIC or DYNAMIC.
STATIC blocks are fixed boilerplate that must appear verbatim in every generated document.
DYNAMIC blocks are placeholders or prose that should be regenerated per document.
Respond with a single JSON object and nothing else:
{"section_type": "STATIC" | "DYNAMIC", "confidence": <0.0-1.0>, "reason": "<short justification>"}`

// llmVerdict is the strict response shape expected from the model.
type llmVerdict struct {
	SectionType string  `json:"section_type"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

// ClassifyByLLM asks the model to classify one block. Temperature is pinned
// to zero so repeated runs over the same template agree.
func ClassifyByLLM(ctx context.Context, client llm.Client, b *docmodel.Block) (Classification, error) {
	prompt := fmt.Sprintf("Block type: %s\nHeading level: %d\nText:\n%s", b.Type, b.Level, b.Text())

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		System:      classifySystemPrompt,
		Prompt:      prompt,
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("llm classification: %w", err)
	}

	var verdict llmVerdict
	raw := strings.TrimSpace(resp.Text)
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return Classification{}, fmt.Errorf("llm returned malformed verdict %q: %w", truncate(raw, 120), err)
	}

	// Models drift in casing; accept "static" as readily as "STATIC".
	var sectionType store.SectionType
	switch {
	case strings.EqualFold(verdict.SectionType, string(store.SectionStatic)):
		sectionType = store.SectionStatic
	case strings.EqualFold(verdict.SectionType, string(store.SectionDynamic)):
		sectionType = store.SectionDynamic
	default:
		return Classification{}, fmt.Errorf("llm returned unknown section type %q", verdict.SectionType)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return Classification{}, fmt.Errorf("llm confidence %v out of range", verdict.Confidence)
	}

	return Classification{
		SectionType: sectionType,
		Confidence:  verdict.Confidence,
		Method:      MethodLLM,
		Reason:      verdict.Reason,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
