package storage

import "fmt"

// Storage key layout. Keys are deterministic so that rows and blobs can be
// correlated by inspection:
//
//	templates/{template-id}/{version}/source.docx
//	templates/{template-id}/{version}/parsed.json
//	documents/{document-id}/{version}/output.docx

// TemplateSourceKey addresses the uploaded template binary.
func TemplateSourceKey(templateID string, version int) string {
	return fmt.Sprintf("templates/%s/%d/source.docx", templateID, version)
}

// TemplateParsedKey addresses the parsed-document JSON artifact.
func TemplateParsedKey(templateID string, version int) string {
	return fmt.Sprintf("templates/%s/%d/parsed.json", templateID, version)
}

// DocumentOutputKey addresses a rendered document version.
func DocumentOutputKey(documentID string, version int) string {
	return fmt.Sprintf("documents/%s/%d/output.docx", documentID, version)
}

// RenderedStagingKey addresses the staging copy written by the rendering
// stage. Versioning reads it, deduplicates, and commits the canonical
// DocumentOutputKey; the staging copy stays as the rendering audit trail.
func RenderedStagingKey(assembledDocumentID string) string {
	return fmt.Sprintf("rendered/%s/output.docx", assembledDocumentID)
}
