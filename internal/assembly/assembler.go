// Package assembly reconstructs the full document from the parsed template
// and a validated batch of section outputs. The contract is zero structural
// drift: the assembled block list has exactly the template's blocks, in the
// template's order, with only dynamic text runs replaced.
package assembly

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/hashing"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// Identity names the run an assembly belongs to. It is folded into the
// assembly hash so identical content assembled for different documents,
// version intents, or output batches never collides.
type Identity struct {
	DocumentID        string
	TemplateVersionID string
	VersionIntent     int
	OutputBatchID     string
}

// InjectionResult records what happened to one dynamic section during
// assembly. Sections whose block type cannot carry injected text are kept
// verbatim and reported with WasInjected false.
type InjectionResult struct {
	SectionID      int64  `json:"section_id"`
	StructuralPath string `json:"structural_path"`
	WasInjected    bool   `json:"was_injected"`
	Reason         string `json:"reason,omitempty"`
	ContentHash    string `json:"content_hash,omitempty"`
}

// Result is a successful assembly.
type Result struct {
	Blocks           []docmodel.Block
	InjectionResults []InjectionResult
	AssemblyHash     string
	TotalBlocks      int
	ModifiedBlocks   int
}

// MarshalStructure serialises the assembled block list for persistence.
func (r *Result) MarshalStructure() ([]byte, error) {
	data, err := json.Marshal(r.Blocks)
	if err != nil {
		return nil, fmt.Errorf("marshal assembled structure: %w", err)
	}
	return data, nil
}

// MarshalInjections serialises the injection report for persistence.
func (r *Result) MarshalInjections() ([]byte, error) {
	data, err := json.Marshal(r.InjectionResults)
	if err != nil {
		return nil, fmt.Errorf("marshal injection results: %w", err)
	}
	return data, nil
}

// CheckPreconditions verifies that assembly may run at all: both batches
// validated, and the output batch derived from this input batch.
func CheckPreconditions(inputBatch *store.GenerationInputBatch, outputBatch *store.SectionOutputBatch) *Error {
	if inputBatch.Status != store.BatchValidated {
		return errorf(CodeInvalidSectionOutput,
			"input batch %s is %s, its outputs cannot be trusted", inputBatch.ID, inputBatch.Status)
	}
	if outputBatch.Status != store.BatchValidated {
		return errorf(CodeInvalidSectionOutput,
			"output batch %s is %s (failed sections: %d)", outputBatch.ID, outputBatch.Status, outputBatch.FailedCount)
	}
	if outputBatch.InputBatchID != inputBatch.ID {
		return errorf(CodeStructuralMismatch,
			"output batch %s derives from input batch %s, not %s", outputBatch.ID, outputBatch.InputBatchID, inputBatch.ID)
	}
	return nil
}

// Assemble rebuilds the document: every template block is carried over
// unchanged except dynamic paragraph and heading blocks, whose runs are
// replaced by the validated generated content with formatting preserved.
func Assemble(id Identity, parsed *docmodel.ParsedDocument, sections []store.Section, outputs []store.SectionOutput) (*Result, *Error) {
	blockIndex := make(map[string]int, len(parsed.Blocks))
	for i, b := range parsed.Blocks {
		if _, seen := blockIndex[b.BlockID]; seen {
			return nil, errorf(CodeDuplicateBlockID,
				"template block id %q appears more than once", b.BlockID)
		}
		blockIndex[b.BlockID] = i
	}
	outputBySection := make(map[int64]*store.SectionOutput, len(outputs))
	for i := range outputs {
		outputBySection[outputs[i].SectionID] = &outputs[i]
	}

	assembled := make([]docmodel.Block, len(parsed.Blocks))
	copy(assembled, parsed.Blocks)

	var injections []InjectionResult
	modified := 0
	dynamicPaths := make(map[string]bool)

	for _, section := range sections {
		if section.SectionType != store.SectionDynamic {
			continue
		}
		idx, ok := blockIndex[section.StructuralPath]
		if !ok {
			return nil, errorf(CodeOrphanedBlock,
				"section %d addresses %s which is not in the template", section.ID, section.StructuralPath)
		}
		out, ok := outputBySection[section.ID]
		if !ok || !out.IsValidated || out.GeneratedContent == nil {
			return nil, errorf(CodeMissingValidatedContent,
				"no validated output for section %d (%s)", section.ID, section.StructuralPath)
		}
		if strings.TrimSpace(*out.GeneratedContent) == "" {
			return nil, errorf(CodeInvalidSectionOutput,
				"validated output for section %d (%s) has empty content", section.ID, section.StructuralPath)
		}

		block := &parsed.Blocks[idx]
		switch block.Type {
		case docmodel.BlockTypeParagraph, docmodel.BlockTypeHeading:
			assembled[idx] = block.WithRuns(*out.GeneratedContent)
			modified++
			dynamicPaths[section.StructuralPath] = true
			injections = append(injections, InjectionResult{
				SectionID:      section.ID,
				StructuralPath: section.StructuralPath,
				WasInjected:    true,
				ContentHash:    deref(out.ContentHash),
			})
		default:
			// Tables, lists and breaks keep their template content.
			injections = append(injections, InjectionResult{
				SectionID:      section.ID,
				StructuralPath: section.StructuralPath,
				WasInjected:    false,
				Reason:         fmt.Sprintf("Unsupported block type for injection: %s", block.Type),
			})
		}
	}

	if verr := validateStructure(parsed.Blocks, assembled, dynamicPaths); verr != nil {
		return nil, verr
	}

	return &Result{
		Blocks:           assembled,
		InjectionResults: injections,
		AssemblyHash:     assemblyHash(id, assembled),
		TotalBlocks:      len(assembled),
		ModifiedBlocks:   modified,
	}, nil
}

// assemblyHash binds the run identity to the assembled content: the
// document, template version, version intent and output batch, followed by
// every (block-id, assembled-content-hash) pair in sequence order, all
// |-joined and hashed.
func assemblyHash(id Identity, blocks []docmodel.Block) string {
	parts := make([]string, 0, len(blocks)+4)
	parts = append(parts,
		id.DocumentID,
		id.TemplateVersionID,
		strconv.Itoa(id.VersionIntent),
		id.OutputBatchID)
	for i := range blocks {
		parts = append(parts, blocks[i].BlockID+":"+blocks[i].ContentHash())
	}
	return hashing.SHA256Hex([]byte(strings.Join(parts, "|")))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
