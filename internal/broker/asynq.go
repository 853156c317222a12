package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"dramapipe/internal/config"
)

// TaskTypeStage is the asynq task type carrying pipeline work units.
const TaskTypeStage = "pipeline:stage"

// QueueName is the asynq queue all pipeline work flows through.
const QueueName = "pipeline"

// AsynqBroker publishes work units through asynq on Redis.
type AsynqBroker struct {
	client *asynq.Client
}

// NewAsynqBroker connects a broker client to the configured Redis.
func NewAsynqBroker(cfg *config.Config) (*AsynqBroker, error) {
	opt, err := asynq.ParseRedisURI(cfg.Redis.URI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	return &AsynqBroker{client: asynq.NewClient(opt)}, nil
}

// Enqueue publishes a work unit for immediate processing.
func (b *AsynqBroker) Enqueue(ctx context.Context, unit WorkUnit) error {
	return b.enqueue(ctx, unit)
}

// EnqueueIn publishes a work unit for processing after the delay.
func (b *AsynqBroker) EnqueueIn(ctx context.Context, unit WorkUnit, delay time.Duration) error {
	return b.enqueue(ctx, unit, asynq.ProcessIn(delay))
}

func (b *AsynqBroker) enqueue(ctx context.Context, unit WorkUnit, opts ...asynq.Option) error {
	payload, err := unit.Marshal()
	if err != nil {
		return fmt.Errorf("encode work unit: %w", err)
	}
	// Broker-level retries are disabled: the state machine owns the retry
	// policy and re-enqueues explicitly.
	opts = append(opts, asynq.Queue(QueueName), asynq.MaxRetry(0))
	task := asynq.NewTask(TaskTypeStage, payload)
	if _, err := b.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue work unit for job %d: %w", unit.JobID, err)
	}
	return nil
}

// Close releases the underlying asynq client.
func (b *AsynqBroker) Close() error {
	return b.client.Close()
}
