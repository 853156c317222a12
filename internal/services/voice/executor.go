package voice

import (
	"context"
	"log/slog"

	"dramapipe/internal/artifacts"
	"dramapipe/internal/idempotency"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
	"dramapipe/internal/services"
	"dramapipe/internal/services/script"
	"dramapipe/internal/stage"
)

// Executor runs the voice synthesis stage: it reads the script artifact and
// produces the narration audio artifact.
type Executor struct {
	client    *Client
	artifacts *artifacts.Store
	cache     *idempotency.Cache
	logger    *slog.Logger
}

// NewExecutor wires the voice synthesis stage.
func NewExecutor(client *Client, store *artifacts.Store, cache *idempotency.Cache, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		client:    client,
		artifacts: store,
		cache:     cache,
		logger:    logging.NewComponentLogger(logger, "voice_synthesis"),
	}
}

// Stage identifies the pipeline stage this executor serves.
func (e *Executor) Stage() queue.Stage {
	return queue.StageVoiceSynthesis
}

// Execute synthesizes narration audio for a job and returns the artifact path.
func (e *Executor) Execute(ctx context.Context, job *queue.Job) (string, error) {
	if job.AudioFile != "" && e.artifacts.Exists(job.ID, queue.StageVoiceSynthesis) {
		return job.AudioFile, nil
	}

	key := job.IdempotencyKey(queue.StageVoiceSynthesis)
	if cached, ok := e.cache.Lookup(ctx, key); ok {
		e.logger.Info("audio served from idempotency cache",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "idempotent_replay"))
		return cached, nil
	}

	if job.ScriptFile == "" {
		return "", services.Wrap(services.ErrValidation, "voice_synthesis", "load script",
			"Job has no script artifact; reopen the job at scripting", nil)
	}
	parsed, err := script.LoadScript(job.ScriptFile)
	if err != nil {
		return "", err
	}

	audio, err := e.client.Synthesize(ctx, parsed.Narration(), key)
	if err != nil {
		return "", err
	}

	path, err := e.artifacts.Write(job.ID, queue.StageVoiceSynthesis, audio)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "voice_synthesis", "store artifact", "Write audio artifact", err)
	}
	if err := e.cache.Record(ctx, key, path); err != nil {
		e.logger.Warn("idempotency record failed", logging.Error(err))
	}

	e.logger.Info("narration synthesized",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("audio_bytes", len(audio)),
		logging.String(logging.FieldEventType, "stage_artifact"))
	return path, nil
}

// HealthCheck reports whether the voice provider is usable.
func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	if err := e.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(queue.StageVoiceSynthesis, err.Error())
	}
	return stage.Healthy(queue.StageVoiceSynthesis)
}
