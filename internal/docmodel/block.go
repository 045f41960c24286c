// Package docmodel defines the in-memory representation of a parsed office
// document: an ordered tree of typed blocks with stable identifiers. The
// parser collaborator produces this model, the classification and assembly
// engines consume it.
package docmodel

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/docforge/internal/hashing"
)

// BlockType tags the variant carried by a Block.
type BlockType string

const (
	BlockTypeParagraph    BlockType = "paragraph"
	BlockTypeHeading      BlockType = "heading"
	BlockTypeTable        BlockType = "table"
	BlockTypeList         BlockType = "list"
	BlockTypeHeader       BlockType = "header"
	BlockTypeFooter       BlockType = "footer"
	BlockTypePageBreak    BlockType = "page_break"
	BlockTypeSectionBreak BlockType = "section_break"
)

// Run is a styled text span within a paragraph or heading.
type Run struct {
	Text      string `json:"text"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
	StyleName string `json:"style_name,omitempty"`
}

// TableCell holds the text content of a single table cell.
type TableCell struct {
	Text string `json:"text"`
	Runs []Run  `json:"runs,omitempty"`
}

// TableRow is an ordered list of cells.
type TableRow struct {
	Cells []TableCell `json:"cells"`
}

// ListItem is a single entry of a list block.
type ListItem struct {
	Text  string `json:"text"`
	Level int    `json:"level,omitempty"`
}

// Formatting carries the layout attributes preserved across assembly.
// Dynamic content injection replaces runs but never formatting.
type Formatting struct {
	Alignment     string  `json:"alignment,omitempty"`
	IndentLeft    float64 `json:"indent_left,omitempty"`
	IndentRight   float64 `json:"indent_right,omitempty"`
	SpacingBefore float64 `json:"spacing_before,omitempty"`
	SpacingAfter  float64 `json:"spacing_after,omitempty"`
	StyleName     string  `json:"style_name,omitempty"`
}

// Block is the tagged-variant unit of a parsed document. The Type tag
// decides which payload fields are meaningful; serialisation is a single
// JSON shape keyed on the tag.
type Block struct {
	BlockID  string    `json:"block_id"`
	Sequence int       `json:"sequence"`
	Type     BlockType `json:"block_type"`

	// Paragraph / heading payload.
	Runs       []Run      `json:"runs,omitempty"`
	Level      int        `json:"level,omitempty"`
	Formatting Formatting `json:"formatting,omitempty"`

	// Table payload.
	Rows []TableRow `json:"rows,omitempty"`

	// List payload.
	Items []ListItem `json:"items,omitempty"`
}

// Text returns the concatenated text of the block's runs. Only meaningful
// for paragraph and heading blocks.
func (b *Block) Text() string {
	var sb strings.Builder
	for _, r := range b.Runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// ColumnCount returns the widest row of a table block.
func (b *Block) ColumnCount() int {
	cols := 0
	for _, row := range b.Rows {
		if len(row.Cells) > cols {
			cols = len(row.Cells)
		}
	}
	return cols
}

// ContentHash computes the deterministic content hash of a block:
// paragraph/heading hash their run text, tables hash their shape, lists hash
// their items joined with "|", and every other type hashes its block id.
func (b *Block) ContentHash() string {
	switch b.Type {
	case BlockTypeParagraph, BlockTypeHeading:
		return hashing.TextHash(b.Text())
	case BlockTypeTable:
		return hashing.TextHash(fmt.Sprintf("table:%dx%d", len(b.Rows), b.ColumnCount()))
	case BlockTypeList:
		items := make([]string, len(b.Items))
		for i, item := range b.Items {
			items[i] = item.Text
		}
		return hashing.TextHash(strings.Join(items, "|"))
	default:
		return hashing.TextHash(b.BlockID)
	}
}

// StructuralPath addresses the block within its template version. Body
// blocks are addressed by their position in document order.
func StructuralPath(sequence int) string {
	return fmt.Sprintf("body/block/%d", sequence)
}

// WithRuns returns a copy of the block whose runs are replaced by a single
// run with the given text. Formatting, level, id, sequence and type are
// preserved.
func (b *Block) WithRuns(text string) Block {
	out := *b
	out.Runs = []Run{{Text: text}}
	return out
}
