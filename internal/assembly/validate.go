package assembly

import "git.home.luguber.info/inful/docforge/internal/docmodel"

// validateStructure enforces the assembly contract after injection: the
// assembled list has exactly the template's blocks, in order, with matching
// ids, types and formatting, and every non-dynamic block's content is
// byte-identical to the template's.
func validateStructure(template, assembled []docmodel.Block, dynamicPaths map[string]bool) *Error {
	if len(template) != len(assembled) {
		return errorf(CodeBlockCountMismatch,
			"block count changed: template %d, assembled %d", len(template), len(assembled))
	}

	templateIDs := make(map[string]bool, len(template))
	for i := range template {
		templateIDs[template[i].BlockID] = true
	}
	for i := range assembled {
		if !templateIDs[assembled[i].BlockID] {
			return errorf(CodeOrphanedBlock,
				"assembled block %q has no counterpart in the template", assembled[i].BlockID)
		}
	}

	for i := range template {
		tb, ab := &template[i], &assembled[i]
		if tb.BlockID != ab.BlockID {
			return errorf(CodeBlockOrderMismatch,
				"block %d id changed: %q -> %q", i, tb.BlockID, ab.BlockID)
		}
		if tb.Type != ab.Type {
			return errorf(CodeStructuralMismatch,
				"block %q type changed: %s -> %s", tb.BlockID, tb.Type, ab.Type)
		}
		if tb.Sequence != ab.Sequence {
			return errorf(CodeStructuralMismatch,
				"block %q sequence changed: %d -> %d", tb.BlockID, tb.Sequence, ab.Sequence)
		}
		if tb.Formatting != ab.Formatting {
			return errorf(CodeStructuralMismatch,
				"block %q formatting changed", tb.BlockID)
		}
		if !dynamicPaths[tb.BlockID] && tb.ContentHash() != ab.ContentHash() {
			return errorf(CodeStaticSectionModified,
				"static block %q content changed", tb.BlockID)
		}
	}
	return nil
}
