package classify

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/llm"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// Engine chains the classifiers: rules, then LLM, then the conservative
// fallback. Each result must clear the confidence threshold to be accepted.
type Engine struct {
	client    llm.Client // nil disables the LLM tier
	threshold float64
	log       *slog.Logger
}

func NewEngine(client llm.Client, threshold float64, log *slog.Logger) *Engine {
	return &Engine{client: client, threshold: threshold, log: log.With("component", "classify")}
}

// Classify settles one block. It never returns an error: an undecidable
// block becomes STATIC with low confidence so a template always classifies
// end to end.
func (e *Engine) Classify(ctx context.Context, b *docmodel.Block) Classification {
	if c := ClassifyByRules(b); c.Confidence >= e.threshold {
		return c
	}

	if e.client != nil {
		c, err := ClassifyByLLM(ctx, e.client, b)
		if err != nil {
			e.log.Warn("llm classification failed, falling back",
				"block_id", b.BlockID, "error", err)
		} else if c.Confidence >= e.threshold {
			return c
		}
	}

	return Classification{
		SectionType: store.SectionStatic,
		Confidence:  0.5,
		Method:      MethodFallback,
		Reason:      "Conservative fallback",
	}
}
