// Package job runs the asynchronous export state machine: durable submit,
// atomic claim, progress heartbeats, exactly-once terminal transitions, and
// maintenance sweeps for stalled and aged jobs.
package job

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/model"
	"github.com/yieldera/datahub/internal/store"
)

// DefaultStaleAfter is how long a running job may go without a heartbeat
// before the maintenance sweep fails it.
const DefaultStaleAfter = 10 * time.Minute

// Runner executes the work of one claimed job. progress reports percent and
// refreshes the job's heartbeat. On success it returns the artifact download
// locations.
type Runner func(ctx context.Context, j *model.Job, progress func(int)) (map[string]string, error)

// Options tunes the manager.
type Options struct {
	Workers    int
	QueueSize  int
	StaleAfter time.Duration
}

// Manager owns the job queue and worker pool.
type Manager struct {
	store      store.Store
	runner     Runner
	queue      chan string
	workers    int
	staleAfter time.Duration
}

// NewManager creates a manager; Start must be called to launch workers.
func NewManager(st store.Store, runner Runner, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	return &Manager{
		store:      st,
		runner:     runner,
		queue:      make(chan string, opts.QueueSize),
		workers:    opts.Workers,
		staleAfter: opts.StaleAfter,
	}
}

// Submit durably records a queued job and hands it to the worker pool. The
// record exists before Submit returns, so a crash immediately after still
// leaves a pollable job. Submission never blocks on extraction.
func (m *Manager) Submit(ctx context.Context, dataset string, params any) (*model.Job, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "job: marshal params")
	}

	now := time.Now().UTC()
	j := &model.Job{
		ID:        uuid.New().String(),
		Dataset:   dataset,
		Status:    model.JobQueued,
		Params:    raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	select {
	case m.queue <- j.ID:
	default:
		// Queue full: the job stays queued durably and will be picked up by
		// the requeue sweep.
		zap.L().Warn("job queue full, deferring to requeue sweep", zap.String("job_id", j.ID))
	}
	return j, nil
}

// Start launches the worker pool and the periodic maintenance loop. It
// returns when ctx is cancelled and all workers have drained.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < m.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case id := <-m.queue:
					if err := m.ClaimAndRun(ctx, id); err != nil {
						zap.L().Error("job execution failed",
							zap.String("job_id", id),
							zap.Error(err),
						)
					}
				}
			}
		})
	}

	g.Go(func() error { return m.maintenanceLoop(ctx) })
	return g.Wait()
}

// ClaimAndRun claims a queued job and executes it to a terminal state. A
// lost claim race returns nil: the job is in good hands elsewhere. Any other
// failure is recorded on the job exactly once.
func (m *Manager) ClaimAndRun(ctx context.Context, id string) error {
	if err := m.store.ClaimJob(ctx, id); err != nil {
		if derrors.IsKind(err, derrors.KindAlreadyClaimed) {
			return nil
		}
		return err
	}

	j, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	zap.L().Info("job started",
		zap.String("job_id", id),
		zap.String("dataset", j.Dataset),
	)

	progress := func(p int) {
		if err := m.store.UpdateJobProgress(ctx, id, p); err != nil {
			zap.L().Warn("job progress write failed", zap.String("job_id", id), zap.Error(err))
		}
	}

	urls, runErr := m.runner(ctx, j, progress)
	if runErr != nil {
		if err := m.store.FailJob(ctx, id, runErr.Error()); err != nil {
			return eris.Wrapf(err, "job: record failure of %s", id)
		}
		zap.L().Warn("job failed",
			zap.String("job_id", id),
			zap.Error(runErr),
		)
		return nil
	}

	if err := m.store.CompleteJob(ctx, id, urls); err != nil {
		return eris.Wrapf(err, "job: record completion of %s", id)
	}
	zap.L().Info("job done", zap.String("job_id", id), zap.Int("artifacts", len(urls)))
	return nil
}

// Status returns the job record for polling. Polling has no side effects.
func (m *Manager) Status(ctx context.Context, id string) (*model.Job, error) {
	return m.store.GetJob(ctx, id)
}

// FailStalled moves running jobs whose heartbeat is older than the staleness
// window to error. Failed-by-sweep jobs are never resurrected; the submitter
// retries with a fresh job.
func (m *Manager) FailStalled(ctx context.Context) (int, error) {
	n, err := m.store.FailStalledJobs(ctx, m.staleAfter, "executor heartbeat lost")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Warn("failed stalled jobs", zap.Int("count", n))
	}
	return n, nil
}

// Requeue re-enqueues durable queued jobs that are not in the in-memory
// queue, e.g. after a restart or an overflow at submit time.
func (m *Manager) Requeue(ctx context.Context) (int, error) {
	jobs, err := m.store.ListJobs(ctx, store.JobFilter{Status: model.JobQueued, Limit: cap(m.queue)})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		select {
		case m.queue <- j.ID:
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Cleanup removes terminal jobs older than the retention window along with
// their artifacts on disk.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	jobs, err := m.store.DeleteJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		for _, path := range j.DownloadURLs {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				zap.L().Warn("artifact removal failed",
					zap.String("job_id", j.ID),
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}
	}
	if len(jobs) > 0 {
		zap.L().Info("cleaned up aged jobs", zap.Int("count", len(jobs)))
	}
	return len(jobs), nil
}

func (m *Manager) maintenanceLoop(ctx context.Context) error {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := m.FailStalled(ctx); err != nil {
				zap.L().Error("stalled-job sweep failed", zap.Error(err))
			}
			if _, err := m.Requeue(ctx); err != nil {
				zap.L().Error("requeue sweep failed", zap.Error(err))
			}
		}
	}
}
