package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"dramapipe/internal/broker"
	"dramapipe/internal/config"
	"dramapipe/internal/logging"
)

// Worker runs the asynq consumer that feeds work units to the dispatcher.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewWorker builds the asynq server for the pipeline queue. Concurrency
// bounds simultaneous stage executions across all jobs.
func NewWorker(cfg *config.Config, dispatcher *Dispatcher, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	opt, err := asynq.ParseRedisURI(cfg.Redis.URI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}

	concurrency := cfg.Workflow.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			broker.QueueName: 1,
		},
	})

	worker := &Worker{
		server:     server,
		mux:        asynq.NewServeMux(),
		dispatcher: dispatcher,
		logger:     logging.NewComponentLogger(logger, "worker"),
	}
	worker.mux.HandleFunc(broker.TaskTypeStage, worker.handleStageTask)
	return worker, nil
}

// HandleFunc installs an additional task handler on the consumer mux.
// It must be called before Start.
func (w *Worker) HandleFunc(taskType string, handler func(context.Context, *asynq.Task) error) {
	w.mux.HandleFunc(taskType, handler)
}

// Start launches the consumer in the background.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	w.logger.Info("worker pool started")
	return nil
}

// Shutdown waits for in-flight stage executions to finish and stops the
// consumer.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("worker pool stopped")
}

func (w *Worker) handleStageTask(ctx context.Context, task *asynq.Task) error {
	unit, err := broker.UnmarshalWorkUnit(task.Payload())
	if err != nil {
		// A payload that cannot be decoded never becomes decodable;
		// dropping it beats redelivering it forever.
		w.logger.Error("discarding malformed work unit", logging.Error(err))
		return nil
	}
	if err := w.dispatcher.Handle(ctx, unit); err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Warn("work unit failed, sweeper will recover",
				logging.Int64(logging.FieldJobID, unit.JobID),
				logging.String(logging.FieldStage, string(unit.Stage)),
				logging.Error(err))
		}
		return err
	}
	return nil
}
