// Package versioning commits rendered artifacts as numbered document
// versions. Identical content is deduplicated by hash; new content follows
// a write-then-verify-then-commit protocol so a version row never points at
// bytes that are not durably readable.
package versioning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/docforge/internal/audit"
	"git.home.luguber.info/inful/docforge/internal/hashing"
	"git.home.luguber.info/inful/docforge/internal/storage"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// Error codes for failed commits.
const (
	CodeStorageFailed     = "STORAGE_FAILED"
	CodeDuplicateVersion  = "DUPLICATE_VERSION"
	CodePersistenceFailed = "PERSISTENCE_FAILED"
)

// Error is a typed versioning failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Documents is the repository slice versioning needs. *store.DocumentRepo
// satisfies it.
type Documents interface {
	Get(ctx context.Context, id string) (*store.Document, error)
	FindVersionByHash(ctx context.Context, documentID, contentHash string) (*store.DocumentVersion, error)
	GetVersion(ctx context.Context, documentID string, versionNumber int) (*store.DocumentVersion, error)
	CreateVersion(ctx context.Context, documentID, outputPath, contentHash string, metadata store.JSONMap) (*store.DocumentVersion, error)
	DeleteVersion(ctx context.Context, documentID string, versionNumber int) error
}

// Service commits and verifies document versions.
type Service struct {
	documents Documents
	objects   storage.ObjectStore
	auditor   *audit.Logger
	log       *slog.Logger
}

func NewService(documents Documents, objects storage.ObjectStore, auditor *audit.Logger, log *slog.Logger) *Service {
	return &Service{
		documents: documents,
		objects:   objects,
		auditor:   auditor,
		log:       log.With("component", "versioning"),
	}
}

// CommitResult reports the outcome of a commit.
type CommitResult struct {
	Version      *store.DocumentVersion
	Deduplicated bool
}

// Commit stores rendered content as the document's next version.
//
// If a version of this document already carries the same content hash, no
// new version is created and the existing one is returned (Deduplicated).
// Otherwise: upload to the canonical key, read back and verify, then insert
// the version row. Any verification miss removes the uploaded object and
// surfaces a typed error; a failed row insert removes the object too, so
// storage never accumulates orphans from failed commits.
func (s *Service) Commit(ctx context.Context, documentID string, content []byte, contentType string, metadata store.JSONMap) (*CommitResult, error) {
	contentHash := hashing.SHA256Hex(content)

	existing, err := s.documents.FindVersionByHash(ctx, documentID, contentHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Dedup changes nothing: no row, no upload, and no audit entry.
		s.log.Info("content deduplicated onto existing version",
			"document_id", documentID,
			"version_number", existing.VersionNumber,
			"content_hash", contentHash)
		return &CommitResult{Version: existing, Deduplicated: true}, nil
	}

	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	intended := doc.CurrentVersion + 1
	key := storage.DocumentOutputKey(documentID, intended)

	if err := s.objects.Put(ctx, key, content, contentType); err != nil {
		return nil, &Error{CodeStorageFailed, fmt.Sprintf("upload %s: %v", key, err)}
	}
	if verr := s.verifyObject(ctx, key, content); verr != nil {
		s.discard(ctx, key)
		return nil, verr
	}

	version, err := s.documents.CreateVersion(ctx, documentID, key, contentHash, metadata)
	if err != nil {
		s.discard(ctx, key)
		return nil, &Error{CodePersistenceFailed, fmt.Sprintf("insert version row: %v", err)}
	}
	if version.VersionNumber != intended {
		// Another commit won the number between our read and the insert;
		// the object key no longer matches the row.
		if derr := s.documents.DeleteVersion(ctx, documentID, version.VersionNumber); derr != nil {
			s.log.Error("rollback of misnumbered version failed", "error", derr)
		}
		s.discard(ctx, key)
		return nil, &Error{CodeDuplicateVersion,
			fmt.Sprintf("version race on document %s: intended %d, allocated %d", documentID, intended, version.VersionNumber)}
	}

	s.auditor.Record(ctx, audit.EntityDocumentVersion, version.ID, audit.ActionCreate, store.JSONMap{
		"document_id":    documentID,
		"version_number": version.VersionNumber,
		"content_hash":   contentHash,
		"output_path":    key,
	})
	s.auditor.Record(ctx, audit.EntityDocument, documentID, audit.ActionUpdateCurrentVersion, store.JSONMap{
		"previous_version": doc.CurrentVersion,
		"current_version":  version.VersionNumber,
	})
	s.log.Info("document version committed",
		"document_id", documentID,
		"version_number", version.VersionNumber,
		"content_hash", contentHash)
	return &CommitResult{Version: version}, nil
}

// verifyObject reads the uploaded object back and compares bytes.
func (s *Service) verifyObject(ctx context.Context, key string, expect []byte) *Error {
	stored, err := s.objects.Get(ctx, key)
	if err != nil {
		return &Error{CodeStorageFailed, fmt.Sprintf("read back %s: %v", key, err)}
	}
	if !bytes.Equal(stored, expect) {
		return &Error{CodeStorageFailed, fmt.Sprintf("read back %s: content mismatch", key)}
	}
	return nil
}

func (s *Service) discard(ctx context.Context, key string) {
	if _, err := s.objects.Delete(ctx, key); err != nil {
		s.log.Warn("discarding failed upload failed", "key", key, "error", err)
	}
}

// VerifyReport is the outcome of an integrity check on one version.
type VerifyReport struct {
	DocumentID    string
	VersionNumber int
	OutputPath    string
	StoredHash    string
	ComputedHash  string
	OK            bool
	Detail        string
}

// Verify checks that a version's stored object exists and still hashes to
// the recorded content hash.
func (s *Service) Verify(ctx context.Context, documentID string, versionNumber int) (*VerifyReport, error) {
	version, err := s.documents.GetVersion(ctx, documentID, versionNumber)
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{
		DocumentID:    documentID,
		VersionNumber: versionNumber,
		OutputPath:    version.OutputPath,
		StoredHash:    version.ContentHash,
	}

	data, err := s.objects.Get(ctx, version.OutputPath)
	if err != nil {
		if storage.IsNotFound(err) {
			report.Detail = "stored object is missing"
			return report, nil
		}
		return nil, err
	}
	report.ComputedHash = hashing.SHA256Hex(data)
	if report.ComputedHash == report.StoredHash {
		report.OK = true
	} else {
		report.Detail = "content hash mismatch"
	}
	return report, nil
}
