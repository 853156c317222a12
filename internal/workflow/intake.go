package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dramapipe/internal/broker"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
	"dramapipe/internal/services"
	"dramapipe/internal/stage"
)

// Intake admits new jobs into the pipeline: it persists the job, moves it
// out of the intake stage, and hands the first work unit to the broker.
// The API server and the daily scheduler both submit through it.
type Intake struct {
	store  *queue.Store
	broker broker.Broker
	logger *slog.Logger
}

// NewIntake constructs an intake bound to the store and broker.
func NewIntake(store *queue.Store, b broker.Broker, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Intake{
		store:  store,
		broker: b,
		logger: logging.NewComponentLogger(logger, "intake"),
	}
}

// Submit creates a job and schedules its first stage. The job is committed
// before the broker publish, so a failed publish leaves a queued job that
// the stalled-job sweep picks up.
func (i *Intake) Submit(ctx context.Context, title, inputJSON string) (*queue.Job, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, services.Wrap(
			services.ErrValidation, "intake", "submit",
			"Provide a non-empty title", fmt.Errorf("title is required"))
	}
	if _, err := stage.ParseInput(inputJSON); err != nil {
		return nil, err
	}

	job, err := i.store.Create(ctx, title, inputJSON)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	job, err = i.store.Transition(ctx, job.ID, queue.StageQueued, queue.StageScripting, "")
	if err != nil {
		return nil, fmt.Errorf("admit job %d: %w", job.ID, err)
	}

	unit := broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting}
	if err := i.broker.Enqueue(ctx, unit); err != nil {
		i.logger.Warn("initial enqueue failed, sweeper will recover",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err))
	}

	i.logger.Info("job admitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("title", job.Title),
		logging.String(logging.FieldEventType, "job_admitted"))
	return job, nil
}

// Resubmit re-enqueues work for a job that is already in an executable
// stage, used after retry-failed and reopen operations.
func (i *Intake) Resubmit(ctx context.Context, job *queue.Job) error {
	if !queue.IsExecutable(job.Stage) {
		return fmt.Errorf("%w: stage %s is not executable", queue.ErrInvalidStage, job.Stage)
	}
	unit := broker.WorkUnit{JobID: job.ID, Stage: job.Stage, Attempt: job.Attempts}
	if err := i.broker.Enqueue(ctx, unit); err != nil {
		return fmt.Errorf("enqueue job %d: %w", job.ID, err)
	}
	return nil
}
