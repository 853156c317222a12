package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dramapipe/internal/broker"
	"dramapipe/internal/config"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
)

// Sweeper periodically repairs the gap between the store and the broker:
// it reclaims expired leases, claims retries whose backoff elapsed, and
// re-enqueues jobs whose work units were lost. Every pass is idempotent;
// a duplicate enqueue is absorbed by the dispatcher.
type Sweeper struct {
	store    *queue.Store
	broker   broker.Broker
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
	stallAge time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper constructs a sweeper from the workflow timing configuration.
func NewSweeper(cfg *config.Config, store *queue.Store, b broker.Broker, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := time.Duration(cfg.Workflow.SweepInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	leaseTTL := time.Duration(cfg.Workflow.LeaseTTL) * time.Second
	// A job only counts as stalled once it has sat untouched longer than a
	// full lease plus one sweep; anything younger may still be in flight.
	stallAge := leaseTTL + interval
	if stallAge < 2*interval {
		stallAge = 2 * interval
	}
	return &Sweeper{
		store:    store,
		broker:   b,
		logger:   logging.NewComponentLogger(logger, "sweeper"),
		interval: interval,
		grace:    time.Duration(cfg.Workflow.SchedulerGracePeriod) * time.Second,
		stallAge: stallAge,
	}
}

// Start launches the periodic sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one repair pass. It is exported so the daemon can force a
// pass on startup before the first tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.SweepAt(ctx, time.Now().UTC())
}

// SweepAt performs one repair pass evaluated at the given instant.
func (s *Sweeper) SweepAt(ctx context.Context, now time.Time) {
	s.reclaimLeases(ctx, now)
	s.claimRetries(ctx, now)
	s.rescueStalled(ctx, now)
}

func (s *Sweeper) reclaimLeases(ctx context.Context, now time.Time) {
	jobs, err := s.store.ReclaimExpiredLeases(ctx, now)
	if err != nil {
		s.logSweepError(ctx, "reclaim expired leases", err)
		return
	}
	for _, job := range jobs {
		s.logger.Info("reclaimed expired lease",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(job.Stage)),
			logging.String(logging.FieldEventType, "lease_reclaimed"))
		s.enqueueCurrent(ctx, job)
	}
}

func (s *Sweeper) claimRetries(ctx context.Context, now time.Time) {
	jobs, err := s.store.DueRetries(ctx, now, s.grace)
	if err != nil {
		s.logSweepError(ctx, "claim due retries", err)
		return
	}
	for _, job := range jobs {
		s.logger.Info("claimed overdue retry",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(job.Stage)),
			logging.Int(logging.FieldAttempt, job.Attempts),
			logging.String(logging.FieldEventType, "retry_claimed"))
		s.enqueueCurrent(ctx, job)
	}
}

func (s *Sweeper) rescueStalled(ctx context.Context, now time.Time) {
	jobs, err := s.store.StalledJobs(ctx, now.Add(-s.stallAge))
	if err != nil {
		s.logSweepError(ctx, "find stalled jobs", err)
		return
	}
	for _, job := range jobs {
		if job.Stage == queue.StageQueued {
			// The job never made it past intake; admit it now.
			admitted, err := s.store.Transition(ctx, job.ID, queue.StageQueued, queue.StageScripting, "")
			if errors.Is(err, queue.ErrConflict) || errors.Is(err, queue.ErrNotFound) {
				continue
			}
			if err != nil {
				s.logSweepError(ctx, "admit stalled job", err)
				continue
			}
			job = admitted
		}
		s.logger.Info("re-enqueued stalled job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(job.Stage)),
			logging.String(logging.FieldEventType, "stalled_rescued"))
		s.enqueueCurrent(ctx, job)
	}
}

func (s *Sweeper) enqueueCurrent(ctx context.Context, job *queue.Job) {
	if !queue.IsExecutable(job.Stage) {
		return
	}
	unit := broker.WorkUnit{JobID: job.ID, Stage: job.Stage, Attempt: job.Attempts}
	if err := s.broker.Enqueue(ctx, unit); err != nil {
		s.logSweepError(ctx, "enqueue recovered job", err)
	}
}

func (s *Sweeper) logSweepError(ctx context.Context, op string, err error) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}
	s.logger.Warn("sweep step failed", logging.String("op", op), logging.Error(err))
}
