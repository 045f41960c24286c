package docmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docforge/internal/hashing"
)

func TestParagraphContentHashUsesRunText(t *testing.T) {
	b := Block{
		BlockID:  "body/block/0",
		Type:     BlockTypeParagraph,
		Runs:     []Run{{Text: "Hello "}, {Text: "world", Bold: true}},
	}
	assert.Equal(t, hashing.TextHash("Hello world"), b.ContentHash())
}

func TestParagraphContentHashIgnoresFormatting(t *testing.T) {
	plain := Block{BlockID: "a", Type: BlockTypeParagraph, Runs: []Run{{Text: "same"}}}
	styled := Block{
		BlockID:    "b",
		Type:       BlockTypeParagraph,
		Runs:       []Run{{Text: "same", Bold: true, Italic: true}},
		Formatting: Formatting{Alignment: "center", StyleName: "Body"},
	}
	assert.Equal(t, plain.ContentHash(), styled.ContentHash())
}

func TestTableContentHashUsesShape(t *testing.T) {
	b := Block{
		BlockID: "body/block/3",
		Type:    BlockTypeTable,
		Rows: []TableRow{
			{Cells: []TableCell{{Text: "a"}, {Text: "b"}, {Text: "c"}}},
			{Cells: []TableCell{{Text: "d"}, {Text: "e"}}},
		},
	}
	assert.Equal(t, hashing.TextHash("table:2x3"), b.ContentHash())
}

func TestListContentHashJoinsItems(t *testing.T) {
	b := Block{
		BlockID: "body/block/4",
		Type:    BlockTypeList,
		Items:   []ListItem{{Text: "first"}, {Text: "second"}},
	}
	assert.Equal(t, hashing.TextHash("first|second"), b.ContentHash())
}

func TestBreakContentHashFallsBackToBlockID(t *testing.T) {
	b := Block{BlockID: "body/block/5", Type: BlockTypePageBreak}
	assert.Equal(t, hashing.TextHash("body/block/5"), b.ContentHash())
}

func TestContentHashStableAcrossCalls(t *testing.T) {
	b := Block{BlockID: "x", Type: BlockTypeHeading, Level: 2, Runs: []Run{{Text: "Scope"}}}
	assert.Equal(t, b.ContentHash(), b.ContentHash())
}

func TestWithRunsPreservesEverythingButText(t *testing.T) {
	orig := Block{
		BlockID:    "body/block/1",
		Sequence:   1,
		Type:       BlockTypeHeading,
		Level:      3,
		Runs:       []Run{{Text: "old", Bold: true}, {Text: " text"}},
		Formatting: Formatting{Alignment: "left", StyleName: "Heading3", IndentLeft: 12},
	}

	replaced := orig.WithRuns("generated content")

	assert.Equal(t, orig.BlockID, replaced.BlockID)
	assert.Equal(t, orig.Sequence, replaced.Sequence)
	assert.Equal(t, orig.Type, replaced.Type)
	assert.Equal(t, orig.Level, replaced.Level)
	assert.Equal(t, orig.Formatting, replaced.Formatting)
	assert.Equal(t, []Run{{Text: "generated content"}}, replaced.Runs)
	// Original untouched.
	assert.Len(t, orig.Runs, 2)
}

func TestStructuralPath(t *testing.T) {
	assert.Equal(t, "body/block/7", StructuralPath(7))
}

func TestParsedDocumentRoundTrip(t *testing.T) {
	doc := &ParsedDocument{
		TemplateVersionID: "tv-1",
		TemplateID:        "t-1",
		VersionNumber:     1,
		ContentHash:       hashing.TextHash("src"),
		Blocks: []Block{
			{BlockID: "body/block/0", Sequence: 0, Type: BlockTypeHeading, Level: 1, Runs: []Run{{Text: "Title"}}},
			{BlockID: "body/block/1", Sequence: 1, Type: BlockTypeParagraph, Runs: []Run{{Text: "Body"}}},
		},
	}
	doc.ComputeSummary()

	data, err := doc.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalParsedDocument(data)
	require.NoError(t, err)
	assert.Equal(t, doc.TemplateVersionID, decoded.TemplateVersionID)
	assert.Len(t, decoded.Blocks, 2)
	assert.Equal(t, BlockTypeHeading, decoded.Blocks[0].Type)
	assert.Equal(t, 1, decoded.Summary.HeadingCount)
	assert.Equal(t, 1, decoded.Summary.ParagraphCount)
}

func TestParsedDocumentValidate(t *testing.T) {
	doc := &ParsedDocument{Blocks: []Block{
		{BlockID: "body/block/0", Sequence: 0, Type: BlockTypeParagraph},
		{BlockID: "body/block/1", Sequence: 1, Type: BlockTypeParagraph},
	}}
	require.NoError(t, doc.Validate())

	dup := &ParsedDocument{Blocks: []Block{
		{BlockID: "same", Sequence: 0, Type: BlockTypeParagraph},
		{BlockID: "same", Sequence: 1, Type: BlockTypeParagraph},
	}}
	assert.Error(t, dup.Validate())

	gap := &ParsedDocument{Blocks: []Block{
		{BlockID: "a", Sequence: 0, Type: BlockTypeParagraph},
		{BlockID: "b", Sequence: 2, Type: BlockTypeParagraph},
	}}
	assert.Error(t, gap.Validate())
}
