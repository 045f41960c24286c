package docmodel

import (
	"encoding/json"
	"fmt"
)

// Summary carries the block census of a parsed document.
type Summary struct {
	TotalBlocks    int `json:"total_blocks"`
	ParagraphCount int `json:"paragraph_count"`
	HeadingCount   int `json:"heading_count"`
	TableCount     int `json:"table_count"`
	ListCount      int `json:"list_count"`
}

// ParsedDocument is the object-storage artifact produced by the PARSE stage.
// It is referenced from a TemplateVersion row by path, never stored inline.
type ParsedDocument struct {
	TemplateVersionID string            `json:"template_version_id"`
	TemplateID        string            `json:"template_id"`
	VersionNumber     int               `json:"version_number"`
	ContentHash       string            `json:"content_hash"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Blocks            []Block           `json:"blocks"`
	Headers           []Block           `json:"headers,omitempty"`
	Footers           []Block           `json:"footers,omitempty"`
	Summary           Summary           `json:"summary"`
}

// ComputeSummary recounts the block census from the block list.
func (d *ParsedDocument) ComputeSummary() {
	s := Summary{TotalBlocks: len(d.Blocks)}
	for _, b := range d.Blocks {
		switch b.Type {
		case BlockTypeParagraph:
			s.ParagraphCount++
		case BlockTypeHeading:
			s.HeadingCount++
		case BlockTypeTable:
			s.TableCount++
		case BlockTypeList:
			s.ListCount++
		}
	}
	d.Summary = s
}

// Validate checks the structural invariants of a parsed document: dense
// sequences starting at 0 and unique, non-empty block ids.
func (d *ParsedDocument) Validate() error {
	seen := make(map[string]bool, len(d.Blocks))
	for i, b := range d.Blocks {
		if b.BlockID == "" {
			return fmt.Errorf("block at index %d has empty block_id", i)
		}
		if seen[b.BlockID] {
			return fmt.Errorf("duplicate block_id %q", b.BlockID)
		}
		seen[b.BlockID] = true
		if b.Sequence != i {
			return fmt.Errorf("block %q has sequence %d, expected %d", b.BlockID, b.Sequence, i)
		}
	}
	return nil
}

// Marshal serialises the document for object storage.
func (d *ParsedDocument) Marshal() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal parsed document: %w", err)
	}
	return data, nil
}

// UnmarshalParsedDocument decodes a parsed-document artifact.
func UnmarshalParsedDocument(data []byte) (*ParsedDocument, error) {
	var doc ParsedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal parsed document: %w", err)
	}
	return &doc, nil
}
