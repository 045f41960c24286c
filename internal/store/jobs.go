package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CancelledByUser is the error recorded when an operator cancels a job.
const CancelledByUser = "Cancelled by user"

// JobRepo is the durable job queue. Claim uses row-level
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent claimers never observe
// the same PENDING job.
type JobRepo struct {
	db *sqlx.DB
}

// NewJobRepo creates a job repository over the shared handle.
func NewJobRepo(db *sqlx.DB) *JobRepo {
	return &JobRepo{db: db}
}

// Enqueue inserts a PENDING job and returns its id.
func (r *JobRepo) Enqueue(ctx context.Context, jobType JobType, payload JSONMap) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, status, payload) VALUES ($1, $2, $3, $4)`,
		id, jobType, JobStatusPending, payload,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	return id, nil
}

// Claim atomically selects the oldest PENDING job (optionally filtered by
// type), transitions it to RUNNING and stamps the worker. Returns nil when
// no job is available.
func (r *JobRepo) Claim(ctx context.Context, workerID string, typeFilter []JobType) (*Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var job Job
	if len(typeFilter) > 0 {
		query, args, inErr := sqlx.In(
			`SELECT * FROM jobs
			 WHERE status = ? AND type IN (?)
			 ORDER BY created_at
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`,
			JobStatusPending, typeFilter,
		)
		if inErr != nil {
			return nil, fmt.Errorf("build claim query: %w", inErr)
		}
		err = tx.GetContext(ctx, &job, tx.Rebind(query), args...)
	} else {
		err = tx.GetContext(ctx, &job,
			`SELECT * FROM jobs
			 WHERE status = $1
			 ORDER BY created_at
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`,
			JobStatusPending,
		)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select pending job: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, worker_id = $2, started_at = $3, updated_at = $3
		 WHERE id = $4`,
		JobStatusRunning, workerID, now, job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = JobStatusRunning
	job.WorkerID = &workerID
	job.StartedAt = &now
	return &job, nil
}

// Complete transitions RUNNING → COMPLETED and stores the result. A job
// already in a terminal state is left untouched (no-op, returns false):
// cancellation may have beaten the handler to the terminal write.
func (r *JobRepo) Complete(ctx context.Context, jobID string, result JSONMap) (bool, error) {
	return r.completeWith(ctx, r.db, jobID, result)
}

// CompleteAndEnqueue commits the terminal transition of jobID and the
// enqueue of its pipeline successor in a single transaction, so at-least-once
// execution cannot produce an orphaned successor. Returns the successor id.
func (r *JobRepo) CompleteAndEnqueue(ctx context.Context, jobID string, result JSONMap, nextType JobType, nextPayload JSONMap) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin completion transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	completed, err := r.completeWith(ctx, tx, jobID, result)
	if err != nil {
		return "", err
	}
	if !completed {
		// Job reached a terminal state concurrently; do not spawn the
		// successor a second time.
		return "", tx.Commit()
	}

	nextID := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, type, status, payload) VALUES ($1, $2, $3, $4)`,
		nextID, nextType, JobStatusPending, nextPayload,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue successor %s job: %w", nextType, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit completion: %w", err)
	}
	return nextID, nil
}

func (r *JobRepo) completeWith(ctx context.Context, ext sqlx.ExtContext, jobID string, result JSONMap) (bool, error) {
	now := time.Now().UTC()
	res, err := ext.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, result = $2, completed_at = $3, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		JobStatusCompleted, result, now, jobID, JobStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete job rows: %w", err)
	}
	return n == 1, nil
}

// Fail transitions a PENDING or RUNNING job to FAILED with the error
// message. Terminal jobs are untouched.
func (r *JobRepo) Fail(ctx context.Context, jobID, errMsg string) (bool, error) {
	return r.failWith(ctx, jobID, errMsg, nil)
}

// FailWithResult records both the failure message and the partial result
// (pipeline state reached before the failure).
func (r *JobRepo) FailWithResult(ctx context.Context, jobID, errMsg string, result JSONMap) (bool, error) {
	return r.failWith(ctx, jobID, errMsg, result)
}

func (r *JobRepo) failWith(ctx context.Context, jobID, errMsg string, result JSONMap) (bool, error) {
	now := time.Now().UTC()
	// A nil result must become SQL NULL so COALESCE keeps whatever partial
	// result the handler already recorded.
	var resultArg any
	if result != nil {
		resultArg = result
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, error = $2, result = COALESCE($3, result),
		     completed_at = $4, updated_at = $4
		 WHERE id = $5 AND status IN ($6, $7)`,
		JobStatusFailed, errMsg, resultArg, now, jobID, JobStatusPending, JobStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail job rows: %w", err)
	}
	return n == 1, nil
}

// Cancel marks a PENDING or RUNNING job FAILED with the cancellation
// message. Returns false for jobs already in a terminal state.
func (r *JobRepo) Cancel(ctx context.Context, jobID string) (bool, error) {
	return r.failWith(ctx, jobID, CancelledByUser, nil)
}

// FindStuck returns RUNNING jobs whose started_at is older than threshold.
func (r *JobRepo) FindStuck(ctx context.Context, threshold time.Duration) ([]Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	var jobs []Job
	err := r.db.SelectContext(ctx, &jobs,
		`SELECT * FROM jobs
		 WHERE status = $1 AND started_at < $2
		 ORDER BY started_at`,
		JobStatusRunning, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("find stuck jobs: %w", err)
	}
	return jobs, nil
}

// ResetStuck transitions a RUNNING job back to PENDING, clearing worker and
// start stamps and recording the recovery reason. Returns false if the job
// left RUNNING in the meantime.
func (r *JobRepo) ResetStuck(ctx context.Context, jobID, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, worker_id = NULL, started_at = NULL,
		     error = $2, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		JobStatusPending, reason, time.Now().UTC(), jobID, JobStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("reset stuck job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset stuck job rows: %w", err)
	}
	return n == 1, nil
}

// Get fetches a job by id.
func (r *JobRepo) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := r.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Entity: "job", ID: jobID}
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListRecent returns the newest jobs, optionally filtered by status.
func (r *JobRepo) ListRecent(ctx context.Context, status JobStatus, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []Job
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &jobs,
			`SELECT * FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &jobs,
			`SELECT * FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
