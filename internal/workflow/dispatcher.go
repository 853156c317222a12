package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dramapipe/internal/broker"
	"dramapipe/internal/config"
	"dramapipe/internal/logging"
	"dramapipe/internal/pipeline"
	"dramapipe/internal/queue"
	"dramapipe/internal/services"
	"dramapipe/internal/stage"
)

// Dispatcher executes work units against the registered stage executors and
// applies the resulting state transitions. Handle returns an error only for
// operational failures (store or broker unreachable), which surrender the
// unit and leave recovery to the sweeper; every job-level outcome is fully
// absorbed.
type Dispatcher struct {
	cfg             *config.Config
	store           *queue.Store
	broker          broker.Broker
	logger          *slog.Logger
	workerID        string
	leaseTTL        time.Duration
	renewEvery      time.Duration
	leaseRetryDelay time.Duration

	mu        sync.RWMutex
	executors map[queue.Stage]stage.Executor
}

// NewDispatcher constructs a dispatcher with an empty executor registry.
func NewDispatcher(cfg *config.Config, store *queue.Store, b broker.Broker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		cfg:             cfg,
		store:           store,
		broker:          b,
		logger:          logging.NewComponentLogger(logger, "dispatcher"),
		workerID:        "worker-" + uuid.NewString()[:8],
		leaseTTL:        time.Duration(cfg.Workflow.LeaseTTL) * time.Second,
		renewEvery:      time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		leaseRetryDelay: time.Duration(cfg.Workflow.LeaseRetryDelay) * time.Second,
		executors:       make(map[queue.Stage]stage.Executor),
	}
}

// Register installs an executor for its stage, replacing any previous one.
func (d *Dispatcher) Register(executor stage.Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[executor.Stage()] = executor
}

func (d *Dispatcher) executor(s queue.Stage) (stage.Executor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	executor, ok := d.executors[s]
	return executor, ok
}

// Handle processes one delivery of a work unit.
func (d *Dispatcher) Handle(ctx context.Context, unit broker.WorkUnit) error {
	logger := d.logger.With(
		logging.Int64(logging.FieldJobID, unit.JobID),
		logging.String(logging.FieldStage, string(unit.Stage)),
		logging.Int(logging.FieldAttempt, unit.Attempt))

	job, err := d.store.GetByID(ctx, unit.JobID)
	if errors.Is(err, queue.ErrNotFound) {
		logger.Debug("dropping unit for deleted job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %d: %w", unit.JobID, err)
	}

	// Stale stage: the job already moved on, this delivery is a duplicate.
	if job.Stage != unit.Stage {
		logger.Debug("dropping stale unit",
			logging.String("current_stage", string(job.Stage)),
			logging.String(logging.FieldEventType, "duplicate_absorbed"))
		return nil
	}

	if job.CancelRequested {
		return d.finalizeCancel(ctx, logger, job)
	}

	executor, ok := d.executor(unit.Stage)
	if !ok {
		return fmt.Errorf("no executor registered for stage %s", unit.Stage)
	}

	holder := d.workerID
	leased, err := d.store.AcquireLease(ctx, job.ID, holder, d.leaseTTL)
	if errors.Is(err, queue.ErrLeaseHeld) {
		logger.Debug("lease held elsewhere, requeueing",
			logging.String(logging.FieldEventType, "duplicate_absorbed"))
		if enqErr := d.broker.EnqueueIn(ctx, unit, d.leaseRetryDelay); enqErr != nil {
			logger.Warn("delayed requeue failed, sweeper will recover", logging.Error(enqErr))
		}
		return nil
	}
	if errors.Is(err, queue.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire lease for job %d: %w", job.ID, err)
	}
	job = leased

	outcome := d.execute(ctx, logger, executor, job, holder)
	return d.apply(ctx, logger, job, holder, unit, outcome)
}

// execute runs the stage body under a per-stage timeout while a background
// goroutine keeps the lease alive.
func (d *Dispatcher) execute(ctx context.Context, logger *slog.Logger, executor stage.Executor, job *queue.Job, holder string) pipeline.Outcome {
	desc := pipeline.DescriptorFor(d.cfg, job.Stage)

	execCtx := services.WithJobID(ctx, job.ID)
	execCtx = services.WithStage(execCtx, string(job.Stage))
	var cancel context.CancelFunc
	if desc.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, desc.Timeout)
	} else {
		execCtx, cancel = context.WithCancel(execCtx)
	}
	defer cancel()

	renewDone := make(chan struct{})
	go d.renewLoop(execCtx, logger, job.ID, holder, renewDone)

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	started := time.Now()
	artifact, err := executor.Execute(execCtx, job)
	cancel()
	<-renewDone

	if err != nil {
		if execCtx.Err() != nil && ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			err = services.Wrap(services.ErrTimeout, string(job.Stage), "execute", "Stage deadline exceeded", err)
		}
		logger.Warn("stage attempt failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldEventType, "stage_failure"))
		return pipeline.Failed(err)
	}

	logger.Info("stage completed",
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "stage_complete"))
	return pipeline.Succeeded(artifact)
}

func (d *Dispatcher) renewLoop(ctx context.Context, logger *slog.Logger, jobID int64, holder string, done chan<- struct{}) {
	defer close(done)
	if d.renewEvery <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(d.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.store.RenewLease(ctx, jobID, holder, d.leaseTTL); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("lease renewal failed", logging.Error(err))
			}
		}
	}
}

// apply maps the outcome through the state machine and persists the verdict.
func (d *Dispatcher) apply(ctx context.Context, logger *slog.Logger, job *queue.Job, holder string, unit broker.WorkUnit, outcome pipeline.Outcome) error {
	// A cancel requested while the stage ran wins over the outcome; the
	// produced artifact stays on disk but the job stops here.
	if current, err := d.store.GetByID(ctx, job.ID); err == nil && current.CancelRequested {
		return d.finalizeCancel(ctx, logger, current)
	}

	desc := pipeline.DescriptorFor(d.cfg, job.Stage)
	decision := pipeline.Decide(job.Stage, job.Attempts, outcome, desc)

	switch decision.Action {
	case pipeline.ActionAdvance, pipeline.ActionComplete:
		updated, err := d.store.Transition(ctx, job.ID, job.Stage, decision.Next, decision.Artifact)
		if errors.Is(err, queue.ErrConflict) {
			logger.Debug("transition lost to concurrent writer",
				logging.String(logging.FieldEventType, "duplicate_absorbed"))
			d.releaseLease(ctx, logger, job.ID, holder)
			return nil
		}
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("transition job %d: %w", job.ID, err)
		}
		d.releaseLease(ctx, logger, job.ID, holder)

		if decision.Action == pipeline.ActionComplete {
			logger.Info("job completed",
				logging.String("publish_url", updated.PublishURL),
				logging.String(logging.FieldEventType, "job_complete"))
			return nil
		}
		next := broker.WorkUnit{JobID: job.ID, Stage: decision.Next, Attempt: 0}
		if err := d.broker.Enqueue(ctx, next); err != nil {
			// The stalled-job sweep re-enqueues it; the transition committed.
			logger.Warn("enqueue for next stage failed, sweeper will recover", logging.Error(err))
		}
		return nil

	case pipeline.ActionRetry:
		updated, err := d.store.RecordFailure(ctx, job.ID, job.Stage, decision.Reason, true, desc.MaxAttempts, decision.Delay)
		if errors.Is(err, queue.ErrConflict) || errors.Is(err, queue.ErrNotFound) {
			d.releaseLease(ctx, logger, job.ID, holder)
			return nil
		}
		if err != nil {
			return fmt.Errorf("record retry for job %d: %w", job.ID, err)
		}
		// RecordFailure may have exhausted the budget on a racing attempt.
		if updated.Stage == queue.StageFailed {
			return nil
		}
		logger.Info("retry scheduled",
			logging.Int(logging.FieldAttempt, updated.Attempts),
			logging.Duration("delay", decision.Delay),
			logging.String(logging.FieldEventType, "retry_scheduled"))
		retryUnit := broker.WorkUnit{JobID: job.ID, Stage: job.Stage, Attempt: updated.Attempts}
		if err := d.broker.EnqueueIn(ctx, retryUnit, decision.Delay); err != nil {
			logger.Warn("delayed enqueue failed, retry sweep will recover", logging.Error(err))
		}
		return nil

	case pipeline.ActionFail:
		_, err := d.store.RecordFailure(ctx, job.ID, job.Stage, decision.Reason, false, desc.MaxAttempts, 0)
		if errors.Is(err, queue.ErrConflict) || errors.Is(err, queue.ErrNotFound) {
			d.releaseLease(ctx, logger, job.ID, holder)
			return nil
		}
		if err != nil {
			return fmt.Errorf("record failure for job %d: %w", job.ID, err)
		}
		logger.Error("job failed",
			logging.String("reason", decision.Reason),
			logging.String(logging.FieldEventType, "job_failed"))
		return nil

	default:
		return fmt.Errorf("unknown decision action %d", decision.Action)
	}
}

func (d *Dispatcher) finalizeCancel(ctx context.Context, logger *slog.Logger, job *queue.Job) error {
	_, err := d.store.MarkCancelled(ctx, job.ID, job.Stage)
	if errors.Is(err, queue.ErrConflict) || errors.Is(err, queue.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel job %d: %w", job.ID, err)
	}
	logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
	return nil
}

func (d *Dispatcher) releaseLease(ctx context.Context, logger *slog.Logger, jobID int64, holder string) {
	if err := d.store.ReleaseLease(ctx, jobID, holder); err != nil {
		logger.Warn("lease release failed", logging.Error(err))
	}
}

// StageHealth reports the readiness of every registered executor.
func (d *Dispatcher) StageHealth(ctx context.Context) []stage.Health {
	d.mu.RLock()
	executors := make([]stage.Executor, 0, len(d.executors))
	for _, executor := range d.executors {
		executors = append(executors, executor)
	}
	d.mu.RUnlock()

	healths := make([]stage.Health, 0, len(executors))
	for _, executor := range executors {
		healths = append(healths, executor.HealthCheck(ctx))
	}
	return healths
}
