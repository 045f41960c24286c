// Package queue is the durable work distribution layer: a scheduler that
// enqueues jobs and wakes workers, and workers that claim, execute, and
// recover jobs.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docforge/internal/store"
)

// JobQueue is the slice of the persistence layer the queue needs.
// *store.JobRepo satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType store.JobType, payload store.JSONMap) (string, error)
	Claim(ctx context.Context, workerID string, typeFilter []store.JobType) (*store.Job, error)
	Complete(ctx context.Context, jobID string, result store.JSONMap) (bool, error)
	FailWithResult(ctx context.Context, jobID, errMsg string, result store.JSONMap) (bool, error)
	FindStuck(ctx context.Context, threshold time.Duration) ([]store.Job, error)
	ResetStuck(ctx context.Context, jobID, reason string) (bool, error)
}

// Scheduler enqueues jobs and notifies workers. Notification failures are
// logged and dropped: the queue row is already durable and polling will
// pick it up.
type Scheduler struct {
	jobs     JobQueue
	notifier Notifier
	log      *slog.Logger
}

func NewScheduler(jobs JobQueue, notifier Notifier, log *slog.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, notifier: notifier, log: log.With("component", "scheduler")}
}

// Enqueue persists a PENDING job and pings workers.
func (s *Scheduler) Enqueue(ctx context.Context, jobType store.JobType, payload store.JSONMap) (string, error) {
	id, err := s.jobs.Enqueue(ctx, jobType, payload)
	if err != nil {
		return "", fmt.Errorf("schedule %s job: %w", jobType, err)
	}
	if err := s.notifier.NotifyJobReady(); err != nil {
		s.log.Warn("job notification failed, workers will poll", "job_id", id, "error", err)
	}
	s.log.Info("job enqueued", "job_id", id, "type", jobType)
	return id, nil
}
