package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "pgx"), mock
}

func jobColumns() []string {
	return []string{
		"id", "type", "status", "payload", "worker_id",
		"started_at", "completed_at", "result", "error",
		"created_at", "updated_at",
	}
}

func TestJobRepoClaimEmptyQueue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM jobs`).
		WithArgs(JobStatusPending).
		WillReturnRows(sqlmock.NewRows(jobColumns()))
	mock.ExpectRollback()

	job, err := repo.Claim(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepoClaimTransitionsToRunning(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepo(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(jobColumns()).AddRow(
		"job-1", JobTypeGenerate, JobStatusPending, []byte(`{"document_id":"doc-1"}`),
		nil, nil, nil, nil, nil, now, now,
	)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM jobs`).
		WithArgs(JobStatusPending).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(JobStatusRunning, "worker-1", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := repo.Claim(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.WorkerID)
	assert.Equal(t, "worker-1", *job.WorkerID)
	assert.NotNil(t, job.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepoClaimWithTypeFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepo(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(jobColumns()).AddRow(
		"job-2", JobTypeParse, JobStatusPending, []byte(`{}`),
		nil, nil, nil, nil, nil, now, now,
	)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM jobs`).
		WithArgs(JobStatusPending, JobTypeParse, JobTypeClassify).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(JobStatusRunning, "worker-1", sqlmock.AnyArg(), "job-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := repo.Claim(context.Background(), "worker-1", []JobType{JobTypeParse, JobTypeClassify})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeParse, job.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepoCompleteIsConditionalOnRunning(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepo(db)

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(JobStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 0))

	completed, err := repo.Complete(context.Background(), "job-1", JSONMap{"ok": true})
	require.NoError(t, err)
	assert.False(t, completed, "terminal job must be a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepoCompleteAndEnqueueIsAtomic(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(JobStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO jobs (id, type, status, payload) VALUES ($1, $2, $3, $4)`)).
		WithArgs(sqlmock.AnyArg(), JobTypeClassify, JobStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	nextID, err := repo.CompleteAndEnqueue(context.Background(), "job-1",
		JSONMap{"template_version_id": "tv-1"},
		JobTypeClassify, JSONMap{"template_version_id": "tv-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, nextID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepoCompleteAndEnqueueSkipsSuccessorWhenTerminal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(JobStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	nextID, err := repo.CompleteAndEnqueue(context.Background(), "job-1",
		nil, JobTypeClassify, nil)
	require.NoError(t, err)
	assert.Empty(t, nextID, "no successor when the job was already terminal")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepoCancelReturnsFalseForTerminalJob(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepo(db)

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(JobStatusFailed, CancelledByUser, sqlmock.AnyArg(), sqlmock.AnyArg(),
			"job-1", JobStatusPending, JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cancelled, err := repo.Cancel(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepoResetStuck(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepo(db)

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(JobStatusPending, "worker heartbeat expired", sqlmock.AnyArg(),
			"job-1", JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reset, err := repo.ResetStuck(context.Background(), "job-1", "worker heartbeat expired")
	require.NoError(t, err)
	assert.True(t, reset)
	assert.NoError(t, mock.ExpectationsWereMet())
}
