package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRepoCreateVersionAdvancesPointer(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT current_version FROM documents`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"current_version"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO document_versions`).
		WithArgs(sqlmock.AnyArg(), "doc-1", 3, "documents/doc-1/3/output.docx", "abc123", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE documents SET current_version`).
		WithArgs(3, "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := repo.CreateVersion(context.Background(), "doc-1",
		"documents/doc-1/3/output.docx", "abc123", JSONMap{"input_batch_id": "batch-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, v.VersionNumber)
	assert.Equal(t, "abc123", v.ContentHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepoDeleteVersionRefusesNonCurrent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT current_version FROM documents`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"current_version"}).AddRow(5))
	mock.ExpectRollback()

	err := repo.DeleteVersion(context.Background(), "doc-1", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to delete")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepoFindVersionByHashMissReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepo(db)

	mock.ExpectQuery(`SELECT \* FROM document_versions`).
		WithArgs("doc-1", "nohash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	v, err := repo.FindVersionByHash(context.Background(), "doc-1", "nohash")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepoValidateSealedBatchRejected(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBatchRepo(db)

	mock.ExpectExec(`UPDATE generation_input_batches`).
		WithArgs(BatchValidated, "hash", "batch-1", BatchPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ValidateBatch(context.Background(), "batch-1", "hash")
	require.Error(t, err)
	assert.True(t, IsImmutabilityViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutputRepoRecordOutputSealedRowRejected(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutputRepo(db)

	mock.ExpectExec(`UPDATE section_outputs`).
		WithArgs(OutputValidated, "content", "hash", "ob-1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecordOutput(context.Background(), "ob-1", 7, "content", "hash")
	require.Error(t, err)
	assert.True(t, IsImmutabilityViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepoCompleteParsingIsWriteOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTemplateRepo(db)

	mock.ExpectExec(`UPDATE template_versions`).
		WithArgs(ParsingCompleted, "templates/t1/1/parsed.json", "h1", "tv-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CompleteParsing(context.Background(), "tv-1", "templates/t1/1/parsed.json", "h1")
	require.Error(t, err)
	assert.True(t, IsImmutabilityViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
