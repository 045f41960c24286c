package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobType enumerates the work the queue carries.
type JobType string

const (
	JobTypeParse              JobType = "PARSE"
	JobTypeClassify           JobType = "CLASSIFY"
	JobTypeGenerate           JobType = "GENERATE"
	JobTypeRegenerate         JobType = "REGENERATE"
	JobTypeRegenerateSections JobType = "REGENERATE_SECTIONS"
)

// JobStatus is the job queue state machine. COMPLETED and FAILED are sinks;
// RUNNING goes back to PENDING only through stuck-job recovery.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// ParsingStatus tracks template-version parsing.
type ParsingStatus string

const (
	ParsingPending    ParsingStatus = "PENDING"
	ParsingInProgress ParsingStatus = "IN_PROGRESS"
	ParsingCompleted  ParsingStatus = "COMPLETED"
	ParsingFailed     ParsingStatus = "FAILED"
)

// SectionType classifies a template block.
type SectionType string

const (
	SectionStatic  SectionType = "STATIC"
	SectionDynamic SectionType = "DYNAMIC"
)

// BatchStatus is shared by generation-input batches.
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchValidated BatchStatus = "VALIDATED"
	BatchFailed    BatchStatus = "FAILED"
)

// OutputStatus tracks individual section outputs.
type OutputStatus string

const (
	OutputPending   OutputStatus = "PENDING"
	OutputGenerated OutputStatus = "GENERATED"
	OutputValidated OutputStatus = "VALIDATED"
	OutputFailed    OutputStatus = "FAILED"
)

// AssemblyStatus tracks assembled documents.
type AssemblyStatus string

const (
	AssemblyPending    AssemblyStatus = "PENDING"
	AssemblyInProgress AssemblyStatus = "IN_PROGRESS"
	AssemblyCompleted  AssemblyStatus = "COMPLETED"
	AssemblyValidated  AssemblyStatus = "VALIDATED"
	AssemblyFailed     AssemblyStatus = "FAILED"
)

// JSONMap stores a JSON object column as a Go map.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

// Template is an uploaded rich-text template.
type Template struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TemplateVersion is one immutable upload of a template. Once parsing
// completes, parsed_path and content_hash never change.
type TemplateVersion struct {
	ID            string        `db:"id"`
	TemplateID    string        `db:"template_id"`
	VersionNumber int           `db:"version_number"`
	SourcePath    string        `db:"source_path"`
	ParsedPath    *string       `db:"parsed_path"`
	ParsingStatus ParsingStatus `db:"parsing_status"`
	ContentHash   *string       `db:"content_hash"`
	ParsingError  *string       `db:"parsing_error"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

// Section is the classification record for one block of a template version.
// Immutable once created; prompt_config is present iff the section is
// DYNAMIC.
type Section struct {
	ID                int64       `db:"id"`
	TemplateVersionID string      `db:"template_version_id"`
	SectionType       SectionType `db:"section_type"`
	StructuralPath    string      `db:"structural_path"`
	PromptConfig      JSONMap     `db:"prompt_config"`
	CreatedAt         time.Time   `db:"created_at"`
}

// Document is a generation target bound to a template version.
type Document struct {
	ID                string    `db:"id"`
	TemplateVersionID string    `db:"template_version_id"`
	CurrentVersion    int       `db:"current_version"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// DocumentVersion is a durable, numbered, content-addressed artifact.
type DocumentVersion struct {
	ID                 string    `db:"id"`
	DocumentID         string    `db:"document_id"`
	VersionNumber      int       `db:"version_number"`
	OutputPath         string    `db:"output_path"`
	ContentHash        string    `db:"content_hash"`
	GenerationMetadata JSONMap   `db:"generation_metadata"`
	CreatedAt          time.Time `db:"created_at"`
}

// GenerationInputBatch is the immutable, content-addressed set of
// per-section inputs for one generation run.
type GenerationInputBatch struct {
	ID                string      `db:"id"`
	DocumentID        string      `db:"document_id"`
	TemplateVersionID string      `db:"template_version_id"`
	VersionIntent     int         `db:"version_intent"`
	Status            BatchStatus `db:"status"`
	ContentHash       *string     `db:"content_hash"`
	TotalInputs       int         `db:"total_inputs"`
	IsImmutable       bool        `db:"is_immutable"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
}

// GenerationInput is one per-section snapshot inside a batch.
type GenerationInput struct {
	ID            string    `db:"id"`
	BatchID       string    `db:"batch_id"`
	SectionID     int64     `db:"section_id"`
	SequenceOrder int       `db:"sequence_order"`
	Snapshot      JSONMap   `db:"snapshot"`
	InputHash     string    `db:"input_hash"`
	CreatedAt     time.Time `db:"created_at"`
}

// SectionOutputBatch groups the outputs of one generation pass.
type SectionOutputBatch struct {
	ID           string      `db:"id"`
	InputBatchID string      `db:"input_batch_id"`
	Status       BatchStatus `db:"status"`
	TotalOutputs int         `db:"total_outputs"`
	FailedCount  int         `db:"failed_count"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

// SectionOutput is the generated content for one section. Validation and
// immutability are set atomically; only validated outputs feed assembly.
type SectionOutput struct {
	ID               string       `db:"id"`
	OutputBatchID    string       `db:"output_batch_id"`
	InputBatchID     string       `db:"input_batch_id"`
	SectionID        int64        `db:"section_id"`
	Status           OutputStatus `db:"status"`
	GeneratedContent *string      `db:"generated_content"`
	ContentHash      *string      `db:"content_hash"`
	IsValidated      bool         `db:"is_validated"`
	IsImmutable      bool         `db:"is_immutable"`
	Error            *string      `db:"error"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// AssembledDocument is the reconstructed block tree for one output batch.
type AssembledDocument struct {
	ID                   string         `db:"id"`
	DocumentID           string         `db:"document_id"`
	TemplateVersionID    string         `db:"template_version_id"`
	VersionIntent        int            `db:"version_intent"`
	SectionOutputBatchID string         `db:"section_output_batch_id"`
	Status               AssemblyStatus `db:"status"`
	AssemblyHash         *string        `db:"assembly_hash"`
	TotalBlocks          int            `db:"total_blocks"`
	ModifiedBlocks       int            `db:"modified_blocks"`
	AssembledStructure   []byte         `db:"assembled_structure"`
	InjectionResults     []byte         `db:"injection_results"`
	ErrorCode            *string        `db:"error_code"`
	ErrorMessage         *string        `db:"error_message"`
	IsImmutable          bool           `db:"is_immutable"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

// RenderedDocument binds an assembled document to its object-storage blob.
type RenderedDocument struct {
	ID                  string    `db:"id"`
	AssembledDocumentID string    `db:"assembled_document_id"`
	OutputPath          string    `db:"output_path"`
	ContentHash         string    `db:"content_hash"`
	FileSize            int64     `db:"file_size"`
	BlockCount          int       `db:"block_count"`
	CreatedAt           time.Time `db:"created_at"`
}

// Job is one row of the durable queue.
type Job struct {
	ID          string     `db:"id"`
	Type        JobType    `db:"type"`
	Status      JobStatus  `db:"status"`
	Payload     JSONMap    `db:"payload"`
	WorkerID    *string    `db:"worker_id"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	Result      JSONMap    `db:"result"`
	Error       *string    `db:"error"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// AuditEntry is one append-only journal record.
type AuditEntry struct {
	ID         int64     `db:"id"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Action     string    `db:"action"`
	Metadata   JSONMap   `db:"metadata"`
	CreatedAt  time.Time `db:"created_at"`
}
