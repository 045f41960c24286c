package assembly

import "fmt"

// AssemblyErrorCode values persisted on failed assembled_documents rows.
// Stable strings: operators and downstream tooling match on them.
const (
	CodeMissingValidatedContent = "MISSING_VALIDATED_CONTENT"
	CodeStructuralMismatch      = "STRUCTURAL_MISMATCH"
	CodeBlockCountMismatch      = "BLOCK_COUNT_MISMATCH"
	CodeBlockOrderMismatch      = "BLOCK_ORDER_MISMATCH"
	CodeStaticSectionModified   = "STATIC_SECTION_MODIFIED"
	CodeInvalidInjectionTarget  = "INVALID_INJECTION_TARGET"
	CodeDuplicateBlockID        = "DUPLICATE_BLOCK_ID"
	CodeOrphanedBlock           = "ORPHANED_BLOCK"
	CodeUnknownBlockType        = "UNKNOWN_BLOCK_TYPE"
	CodeHashMismatch            = "HASH_MISMATCH"
	CodeImmutableDocument       = "IMMUTABLE_DOCUMENT"
	CodeMissingParsedTemplate   = "MISSING_PARSED_TEMPLATE"
	CodeInvalidSectionOutput    = "INVALID_SECTION_OUTPUT"
	CodeAssemblyAlreadyExists   = "ASSEMBLY_ALREADY_EXISTS"
)

// Error is a typed assembly failure. Code is one of the constants above.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
