package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"dramapipe/internal/artifacts"
	"dramapipe/internal/idempotency"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
	"dramapipe/internal/services"
	"dramapipe/internal/stage"
)

// Executor runs the scripting stage: it turns a job's creative brief into a
// structured script artifact.
type Executor struct {
	client    *Client
	artifacts *artifacts.Store
	cache     *idempotency.Cache
	logger    *slog.Logger
}

// NewExecutor wires the scripting stage.
func NewExecutor(client *Client, store *artifacts.Store, cache *idempotency.Cache, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		client:    client,
		artifacts: store,
		cache:     cache,
		logger:    logging.NewComponentLogger(logger, "scripting"),
	}
}

// Stage identifies the pipeline stage this executor serves.
func (e *Executor) Stage() queue.Stage {
	return queue.StageScripting
}

// Execute generates the script for a job and returns the artifact path.
// Replays short-circuit on an existing artifact before spending provider
// calls.
func (e *Executor) Execute(ctx context.Context, job *queue.Job) (string, error) {
	if job.ScriptFile != "" && e.artifacts.Exists(job.ID, queue.StageScripting) {
		return job.ScriptFile, nil
	}

	key := job.IdempotencyKey(queue.StageScripting)
	if cached, ok := e.cache.Lookup(ctx, key); ok {
		e.logger.Info("script served from idempotency cache",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "idempotent_replay"))
		return cached, nil
	}

	input, err := stage.ParseInput(job.InputJSON)
	if err != nil {
		return "", err
	}

	script, err := e.client.Generate(ctx, GenerateRequest{
		Title:          job.Title,
		Genre:          input.Genre,
		Description:    input.Description,
		Prompt:         input.Prompt,
		IdempotencyKey: key,
	})
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(script, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode script artifact: %w", err)
	}
	path, err := e.artifacts.Write(job.ID, queue.StageScripting, data)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "scripting", "store artifact", "Write script artifact", err)
	}
	if err := e.cache.Record(ctx, key, path); err != nil {
		e.logger.Warn("idempotency record failed", logging.Error(err))
	}

	e.logger.Info("script generated",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("scenes", len(script.Scenes)),
		logging.String(logging.FieldEventType, "stage_artifact"))
	return path, nil
}

// HealthCheck reports whether the script provider is usable.
func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	if err := e.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(queue.StageScripting, err.Error())
	}
	return stage.Healthy(queue.StageScripting)
}

// LoadScript reads a previously written script artifact from disk.
func LoadScript(path string) (Script, error) {
	var script Script
	data, err := os.ReadFile(path)
	if err != nil {
		return script, services.Wrap(services.ErrValidation, "scripting", "load artifact",
			"Script artifact missing; reopen the job at scripting", err)
	}
	if err := json.Unmarshal(data, &script); err != nil {
		return script, services.Wrap(services.ErrValidation, "scripting", "load artifact",
			"Script artifact is corrupt; reopen the job at scripting", err)
	}
	return script, nil
}
