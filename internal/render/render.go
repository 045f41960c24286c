// Package render turns an assembled block list into the stored output
// artifact. The Renderer interface keeps the pipeline independent of the
// output format; the reference implementation emits a deterministic JSON
// envelope so identical assemblies always produce identical bytes.
package render

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/hashing"
	"git.home.luguber.info/inful/docforge/internal/storage"
)

// Document is the renderer input.
type Document struct {
	DocumentID   string
	AssemblyHash string
	Blocks       []docmodel.Block
}

// Renderer produces the output artifact bytes for an assembled document.
// Implementations must be deterministic: the same input document renders to
// the same bytes, or content addressing falls apart downstream.
type Renderer interface {
	Render(ctx context.Context, doc *Document) ([]byte, error)
	ContentType() string
}

// referenceFormat versions the reference envelope so readers can detect
// artifacts rendered by other implementations.
const referenceFormat = "docforge-reference/1"

// ReferenceRenderer emits the canonical-JSON envelope of the assembled
// blocks. Not a real office document, but byte-deterministic and fully
// inspectable, which is what every pipeline property is tested against.
type ReferenceRenderer struct{}

func NewReferenceRenderer() *ReferenceRenderer {
	return &ReferenceRenderer{}
}

func (r *ReferenceRenderer) Render(_ context.Context, doc *Document) ([]byte, error) {
	if len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("render: document %s has no blocks", doc.DocumentID)
	}
	envelope := map[string]any{
		"format":        referenceFormat,
		"document_id":   doc.DocumentID,
		"assembly_hash": doc.AssemblyHash,
		"blocks":        doc.Blocks,
	}
	data, err := hashing.CanonicalJSON(envelope)
	if err != nil {
		return nil, fmt.Errorf("render document %s: %w", doc.DocumentID, err)
	}
	return data, nil
}

func (r *ReferenceRenderer) ContentType() string {
	return storage.ContentTypeJSON
}
