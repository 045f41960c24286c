package generation

import "fmt"

// NoDynamicSectionsError: the template version has nothing to generate.
type NoDynamicSectionsError struct {
	TemplateVersionID string
}

func (e NoDynamicSectionsError) Error() string {
	return fmt.Sprintf("template version %s has no dynamic sections", e.TemplateVersionID)
}

// MissingPromptConfigError: a DYNAMIC section's prompt configuration is
// absent or lacks one of the required classification fields, so no input
// can be prepared for it.
type MissingPromptConfigError struct {
	SectionID      int64
	StructuralPath string
	Field          string
}

func (e MissingPromptConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("dynamic section %d (%s) prompt config is missing %s", e.SectionID, e.StructuralPath, e.Field)
	}
	return fmt.Sprintf("dynamic section %d (%s) has no prompt config", e.SectionID, e.StructuralPath)
}

// MalformedSectionMetadataError: a section points at a block that does not
// exist in the parsed template, or its metadata is not the expected shape.
type MalformedSectionMetadataError struct {
	SectionID      int64
	StructuralPath string
	Detail         string
}

func (e MalformedSectionMetadataError) Error() string {
	return fmt.Sprintf("section %d (%s) metadata is malformed: %s", e.SectionID, e.StructuralPath, e.Detail)
}

// InputValidationError: a snapshot (or the batch built from them) failed
// validation before sealing. Field, SectionID and Value identify the
// offending datum when the failure is per-section.
type InputValidationError struct {
	Field     string
	Reason    string
	SectionID int64
	Value     any
}

func (e InputValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("input validation failed for section %d: %s %v: %s", e.SectionID, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("input validation failed: %s", e.Reason)
}
