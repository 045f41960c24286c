// Package docparse holds the reference template parser. Real deployments
// plug in a format-specific parser behind the same interface; the reference
// format is a JSON block list, which keeps every pipeline property testable
// without an office-format dependency.
package docparse

import (
	"context"
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/docforge/internal/docmodel"
)

// source is the accepted upload shape.
type source struct {
	Metadata map[string]string `json:"metadata,omitempty"`
	Blocks   []docmodel.Block  `json:"blocks"`
	Headers  []docmodel.Block  `json:"headers,omitempty"`
	Footers  []docmodel.Block  `json:"footers,omitempty"`
}

// JSONParser parses the reference JSON template format.
type JSONParser struct{}

func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

// Parse decodes the uploaded bytes. Block ids and sequences in the upload
// are advisory; the pipeline re-stamps both after parsing.
func (p *JSONParser) Parse(_ context.Context, data []byte) (*docmodel.ParsedDocument, error) {
	var src source
	if err := json.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("decode template source: %w", err)
	}
	if len(src.Blocks) == 0 {
		return nil, fmt.Errorf("template source has no blocks")
	}
	for i, b := range src.Blocks {
		if b.Type == "" {
			return nil, fmt.Errorf("block %d has no block_type", i)
		}
	}
	return &docmodel.ParsedDocument{
		Metadata: src.Metadata,
		Blocks:   src.Blocks,
		Headers:  src.Headers,
		Footers:  src.Footers,
	}, nil
}
