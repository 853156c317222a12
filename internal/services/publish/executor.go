package publish

import (
	"context"
	"log/slog"

	"dramapipe/internal/idempotency"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
	"dramapipe/internal/services"
	"dramapipe/internal/services/script"
	"dramapipe/internal/stage"
)

// Executor runs the publishing stage: it uploads the assembled video and
// thumbnail and records the public URL as the job's final artifact. Before
// uploading it asks the provider whether the idempotency key already
// resolved, so a replayed attempt never publishes twice.
type Executor struct {
	client *Client
	cache  *idempotency.Cache
	logger *slog.Logger
}

// NewExecutor wires the publishing stage.
func NewExecutor(client *Client, cache *idempotency.Cache, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		client: client,
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "publishing"),
	}
}

// Stage identifies the pipeline stage this executor serves.
func (e *Executor) Stage() queue.Stage {
	return queue.StagePublishing
}

// Execute publishes a job's video and returns the public URL.
func (e *Executor) Execute(ctx context.Context, job *queue.Job) (string, error) {
	if job.PublishURL != "" {
		return job.PublishURL, nil
	}

	key := job.IdempotencyKey(queue.StagePublishing)
	if cached, ok := e.cache.Lookup(ctx, key); ok {
		e.logger.Info("publish served from idempotency cache",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "idempotent_replay"))
		return cached, nil
	}

	// The provider is the source of truth for whether the side effect
	// happened; a cache miss is not proof of absence.
	if existing, err := e.client.Lookup(ctx, key); err != nil {
		return "", err
	} else if existing != "" {
		e.logger.Info("upload already published for key",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "idempotent_replay"))
		if err := e.cache.Record(ctx, key, existing); err != nil {
			e.logger.Warn("idempotency record failed", logging.Error(err))
		}
		return existing, nil
	}

	if job.VideoFile == "" {
		return "", services.Wrap(services.ErrValidation, "publishing", "upload",
			"Job has no video artifact; reopen the job at assembly", nil)
	}

	description := ""
	if job.ScriptFile != "" {
		if parsed, err := script.LoadScript(job.ScriptFile); err == nil {
			description = parsed.Synopsis
		}
	}
	var tags []string
	if input, err := stage.ParseInput(job.InputJSON); err == nil {
		tags = input.Tags
	}

	publishedURL, err := e.client.Upload(ctx, UploadRequest{
		Title:          job.Title,
		Description:    description,
		Tags:           tags,
		VideoPath:      job.VideoFile,
		ThumbnailPath:  job.ThumbnailFile,
		IdempotencyKey: key,
	})
	if err != nil {
		return "", err
	}

	if err := e.cache.Record(ctx, key, publishedURL); err != nil {
		e.logger.Warn("idempotency record failed", logging.Error(err))
	}
	e.logger.Info("video published",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("url", publishedURL),
		logging.String(logging.FieldEventType, "stage_artifact"))
	return publishedURL, nil
}

// HealthCheck reports whether the publish provider is usable.
func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	if err := e.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(queue.StagePublishing, err.Error())
	}
	return stage.Healthy(queue.StagePublishing)
}
