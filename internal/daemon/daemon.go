package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"dramapipe/internal/artifacts"
	"dramapipe/internal/config"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
	"dramapipe/internal/workflow"
)

// Components carries the workflow machinery the daemon supervises. Worker
// and Scheduler may be nil when the process runs without a broker, as in
// tests; job actions still work against the store.
type Components struct {
	Intake     *workflow.Intake
	Dispatcher *workflow.Dispatcher
	Worker     *workflow.Worker
	Sweeper    *workflow.Sweeper
	Scheduler  *workflow.Scheduler
}

// Daemon coordinates background processing and enforces single-instance
// execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	artifacts *artifacts.Store
	comps     Components

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	janitor sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	QueueDBPath  string
	LockFilePath string
	QueueStats   map[queue.Stage]int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, comps Components) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if comps.Intake == nil || comps.Dispatcher == nil {
		return nil, errors.New("daemon requires intake and dispatcher")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockFilePath()
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		artifacts: artifacts.NewStore(cfg),
		comps:     comps,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the worker pool, sweeper,
// scheduler, and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dramapipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.comps.Worker != nil {
		if err := d.comps.Worker.Start(); err != nil {
			d.releaseLock()
			cancel()
			return err
		}
	}
	if d.comps.Sweeper != nil {
		// Repair anything left over from the previous run before the
		// first tick.
		d.comps.Sweeper.Sweep(runCtx)
		d.comps.Sweeper.Start(runCtx)
	}
	if d.comps.Scheduler != nil {
		if err := d.comps.Scheduler.Start(); err != nil {
			d.logger.Warn("daily scheduler failed to start", logging.Error(err))
		}
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.Stop()
			return err
		}
	}
	d.startJanitor(runCtx)

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.comps.Scheduler != nil {
		d.comps.Scheduler.Shutdown()
	}
	if d.comps.Sweeper != nil {
		d.comps.Sweeper.Stop()
	}
	if d.comps.Worker != nil {
		d.comps.Worker.Shutdown()
	}
	if d.api != nil {
		d.api.stop()
	}
	d.janitor.Wait()
	d.releaseLock()
	if d.running.Swap(false) {
		d.logger.Info("daemon stopped",
			logging.String(logging.FieldEventType, "daemon_stopped"))
	}
}

// Close stops the daemon and closes the job store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// startJanitor launches the artifact retention loop. Staging directories of
// deleted jobs and abandoned directories past the idempotency horizon are
// removed on a slow cadence.
func (d *Daemon) startJanitor(ctx context.Context) {
	maxAge := time.Duration(d.cfg.Workflow.IdempotencyTTLHours) * time.Hour
	if maxAge <= 0 {
		return
	}
	d.janitor.Add(1)
	go func() {
		defer d.janitor.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.cleanArtifacts(ctx, maxAge)
			}
		}
	}()
}

func (d *Daemon) cleanArtifacts(ctx context.Context, maxAge time.Duration) {
	jobs, err := d.store.List(ctx)
	if err != nil {
		d.logger.Warn("artifact cleanup skipped", logging.Error(err))
		return
	}
	live := make(map[int64]struct{}, len(jobs))
	for _, job := range jobs {
		live[job.ID] = struct{}{}
	}
	d.artifacts.CleanOrphaned(ctx, live, d.logger)
	d.artifacts.CleanStale(ctx, maxAge, d.logger)
}

// Submit admits a new job into the pipeline.
func (d *Daemon) Submit(ctx context.Context, title, inputJSON string) (*queue.Job, error) {
	return d.comps.Intake.Submit(ctx, title, inputJSON)
}

// ListJobs returns jobs filtered by optional stages.
func (d *Daemon) ListJobs(ctx context.Context, stages ...queue.Stage) ([]*queue.Job, error) {
	return d.store.List(ctx, stages...)
}

// GetJob returns a single job.
func (d *Daemon) GetJob(ctx context.Context, id int64) (*queue.Job, error) {
	return d.store.GetByID(ctx, id)
}

// Cancel requests cooperative cancellation of a job. Jobs waiting between
// stages are finalized on their next delivery; the sweeper catches the rest.
func (d *Daemon) Cancel(ctx context.Context, id int64) (*queue.Job, error) {
	return d.store.RequestCancel(ctx, id)
}

// Retry moves a failed job back to the stage that failed with a fresh
// attempt budget and re-enqueues it.
func (d *Daemon) Retry(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := d.store.RetryFailed(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.comps.Intake.Resubmit(ctx, job); err != nil {
		d.logger.Warn("retry enqueue failed, sweeper will recover",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
	return job, nil
}

// Reopen rewinds a failed job to an earlier stage, discarding the artifacts
// of that stage and everything after it, and re-enqueues the job.
func (d *Daemon) Reopen(ctx context.Context, id int64, target queue.Stage) (*queue.Job, error) {
	job, err := d.store.Reopen(ctx, id, target)
	if err != nil {
		return nil, err
	}
	if err := d.comps.Intake.Resubmit(ctx, job); err != nil {
		d.logger.Warn("reopen enqueue failed, sweeper will recover",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
	return job, nil
}

// Remove deletes a terminal job and its staging directory.
func (d *Daemon) Remove(ctx context.Context, id int64) error {
	job, err := d.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return fmt.Errorf("%w: job %d is %s", queue.ErrInvalidStage, id, job.Stage)
	}
	removed, err := d.store.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return queue.ErrNotFound
	}
	if err := d.artifacts.Remove(id); err != nil {
		d.logger.Warn("staging cleanup failed",
			logging.Int64(logging.FieldJobID, id),
			logging.Error(err))
	}
	return nil
}

// APIAddr reports the HTTP API's bound address, empty when the API is
// disabled or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// ClearCompleted removes all completed jobs.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

// Stats returns queue counts per stage.
func (d *Daemon) Stats(ctx context.Context) (map[queue.Stage]int, error) {
	return d.store.Stats(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.lockPath,
		QueueStats:   stats,
	}
}
