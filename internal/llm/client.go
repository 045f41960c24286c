// Package llm abstracts the completion model used for LLM-assisted
// classification and section generation. The core only sees the Client
// interface; the Anthropic implementation lives alongside it.
package llm

import "context"

// CompletionRequest is a single-turn completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse carries the model's text output.
type CompletionResponse struct {
	Text string
}

// Client produces completions. Implementations must be safe for concurrent
// use; the classification contract additionally requires temperature 0 for
// deterministic output.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
