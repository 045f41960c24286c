package docparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docforge/internal/docmodel"
)

func TestParseDecodesBlockList(t *testing.T) {
	src := []byte(`{
		"metadata": {"title": "Quarterly Report"},
		"blocks": [
			{"block_type": "heading", "level": 1, "runs": [{"text": "Report"}]},
			{"block_type": "paragraph", "runs": [{"text": "Write the {summary}"}]}
		]
	}`)

	doc, err := NewJSONParser().Parse(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, docmodel.BlockTypeHeading, doc.Blocks[0].Type)
	assert.Equal(t, "Write the {summary}", doc.Blocks[1].Text())
	assert.Equal(t, "Quarterly Report", doc.Metadata["title"])
}

func TestParseRejectsGarbage(t *testing.T) {
	p := NewJSONParser()
	_, err := p.Parse(context.Background(), []byte("PK\x03\x04 not json"))
	assert.Error(t, err)

	_, err = p.Parse(context.Background(), []byte(`{"blocks": []}`))
	assert.Error(t, err)

	_, err = p.Parse(context.Background(), []byte(`{"blocks": [{"runs": [{"text": "x"}]}]}`))
	assert.Error(t, err, "blocks must carry a type tag")
}
