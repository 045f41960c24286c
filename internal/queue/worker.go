package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/docforge/internal/config"
	"git.home.luguber.info/inful/docforge/internal/coordination"
	"git.home.luguber.info/inful/docforge/internal/metrics"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// recoveryLockName serializes stuck-job sweeps across workers.
const recoveryLockName = "job-recovery"

// ErrAlreadyFinalized signals that the handler wrote the job's terminal
// state itself (to commit it atomically with follow-up work). The worker
// records nothing further for the job.
var ErrAlreadyFinalized = errors.New("job already finalized by handler")

// Handler executes one claimed job. The returned result lands in the job
// row; a non-nil error fails the job with the error's message and the
// result recorded as the partial state reached.
type Handler interface {
	Handle(ctx context.Context, job *store.Job) (store.JSONMap, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *store.Job) (store.JSONMap, error)

func (f HandlerFunc) Handle(ctx context.Context, job *store.Job) (store.JSONMap, error) {
	return f(ctx, job)
}

// Liveness is the slice of the coordination store the worker needs.
// *coordination.Store satisfies it.
type Liveness interface {
	Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error
	IsAlive(ctx context.Context, workerID string) (bool, error)
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (*coordination.Lock, error)
}

// Worker claims and executes jobs. Run starts three cooperating loops:
// job polling (plus wake-up notifications), liveness heartbeats, and the
// lock-guarded stuck-job recovery sweep.
type Worker struct {
	id       string
	jobs     JobQueue
	handlers map[store.JobType]Handler
	liveness Liveness
	notifier Notifier
	rec      metrics.Recorder
	cfg      config.WorkerConfig
	log      *slog.Logger

	wake chan struct{}
}

func NewWorker(jobs JobQueue, liveness Liveness, notifier Notifier, rec metrics.Recorder, cfg config.WorkerConfig, log *slog.Logger) *Worker {
	id := "worker-" + uuid.NewString()[:8]
	return &Worker{
		id:       id,
		jobs:     jobs,
		handlers: make(map[store.JobType]Handler),
		liveness: liveness,
		notifier: notifier,
		rec:      rec,
		cfg:      cfg,
		log:      log.With("component", "worker", "worker_id", id),
		wake:     make(chan struct{}, 1),
	}
}

// ID returns the worker's generated identity.
func (w *Worker) ID() string { return w.id }

// Register binds a handler to a job type. Must be called before Run.
func (w *Worker) Register(jobType store.JobType, h Handler) {
	w.handlers[jobType] = h
}

// Run blocks until ctx is cancelled. The first heartbeat is written before
// any claim so recovery never mistakes a freshly started worker for a dead
// one.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return fmt.Errorf("worker has no registered handlers")
	}
	if err := w.liveness.Heartbeat(ctx, w.id, w.heartbeatTTL()); err != nil {
		return fmt.Errorf("initial heartbeat: %w", err)
	}

	unsubscribe, err := w.notifier.Subscribe(func() {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to job notifications: %w", err)
	}
	defer unsubscribe()

	w.log.Info("worker starting",
		"poll_interval", w.cfg.PollInterval,
		"heartbeat_interval", w.cfg.HeartbeatInterval,
		"recovery_interval", w.cfg.RecoveryInterval)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.pollLoop(ctx) }()
	go func() { defer wg.Done(); w.heartbeatLoop(ctx) }()
	go func() { defer wg.Done(); w.recoveryLoop(ctx) }()
	wg.Wait()

	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) heartbeatTTL() time.Duration {
	// TTL is twice the interval so one missed beat does not mark the
	// worker dead.
	return 2 * w.cfg.HeartbeatInterval
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		// Drain the queue before sleeping again.
		for {
			if ctx.Err() != nil {
				return
			}
			claimed, err := w.claimAndRun(ctx)
			if err != nil {
				w.log.Error("claim failed", "error", err)
				break
			}
			if !claimed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// claimAndRun claims at most one job and executes it to a terminal state.
// Returns false when the queue was empty.
func (w *Worker) claimAndRun(ctx context.Context) (bool, error) {
	types := make([]store.JobType, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	job, err := w.jobs.Claim(ctx, w.id, types)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.rec.IncJobClaimed(string(job.Type))
	log := w.log.With("job_id", job.ID, "type", job.Type)
	log.Info("job claimed")

	start := time.Now()
	result, err := w.handlers[job.Type].Handle(ctx, job)
	dur := time.Since(start)
	w.rec.ObserveJobDuration(string(job.Type), dur)

	if errors.Is(err, ErrAlreadyFinalized) {
		w.rec.IncJobCompleted(string(job.Type))
		log.Info("job completed", "duration", dur)
		return true, nil
	}
	if err != nil {
		w.rec.IncJobFailed(string(job.Type))
		log.Error("job failed", "duration", dur, "error", err)
		if _, ferr := w.jobs.FailWithResult(ctx, job.ID, err.Error(), result); ferr != nil {
			log.Error("recording job failure failed", "error", ferr)
		}
		return true, nil
	}

	w.rec.IncJobCompleted(string(job.Type))
	completed, err := w.jobs.Complete(ctx, job.ID, result)
	if err != nil {
		log.Error("recording job completion failed", "error", err)
		return true, nil
	}
	if !completed {
		log.Warn("job reached a terminal state elsewhere, completion dropped")
		return true, nil
	}
	log.Info("job completed", "duration", dur)
	return true, nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.liveness.Heartbeat(ctx, w.id, w.heartbeatTTL()); err != nil {
				w.log.Error("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.recoverStuckJobs(ctx); err != nil {
				w.log.Error("recovery sweep failed", "error", err)
			}
		}
	}
}

// recoverStuckJobs resets RUNNING jobs whose worker's liveness key has
// expired and whose started_at is past the stuck threshold. The sweep runs
// under a named lock so only one worker performs it at a time.
func (w *Worker) recoverStuckJobs(ctx context.Context) error {
	lock, err := w.liveness.AcquireLock(ctx, recoveryLockName, w.cfg.LockTTL)
	if err != nil {
		return err
	}
	if lock == nil {
		return nil
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			w.log.Warn("releasing recovery lock failed", "error", err)
		}
	}()

	stuck, err := w.jobs.FindStuck(ctx, w.cfg.StuckThreshold)
	if err != nil {
		return err
	}
	for _, job := range stuck {
		if job.WorkerID != nil {
			alive, err := w.liveness.IsAlive(ctx, *job.WorkerID)
			if err != nil {
				return err
			}
			if alive {
				// Long-running but its worker is still beating; leave it.
				continue
			}
		}
		reason := fmt.Sprintf("recovered: worker %s heartbeat expired", deref(job.WorkerID))
		reset, err := w.jobs.ResetStuck(ctx, job.ID, reason)
		if err != nil {
			return err
		}
		if reset {
			w.rec.IncJobRecovered(string(job.Type))
			w.log.Warn("stuck job reset to pending",
				"job_id", job.ID, "type", job.Type, "stale_worker", deref(job.WorkerID))
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}
