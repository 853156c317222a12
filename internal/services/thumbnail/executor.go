package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"dramapipe/internal/artifacts"
	"dramapipe/internal/config"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
	"dramapipe/internal/services"
	"dramapipe/internal/stage"
)

// Executor runs the thumbnailing stage: it extracts a representative frame
// from the assembled video with ffmpeg. Like assembly, the operation is
// local and a replay rewrites the same output file.
type Executor struct {
	cfg       config.Assembly
	artifacts *artifacts.Store
	logger    *slog.Logger
}

// NewExecutor wires the thumbnailing stage. It shares the assembly
// configuration because both stages drive the same ffmpeg binary.
func NewExecutor(cfg config.Assembly, store *artifacts.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:       cfg,
		artifacts: store,
		logger:    logging.NewComponentLogger(logger, "thumbnailing"),
	}
}

// Stage identifies the pipeline stage this executor serves.
func (e *Executor) Stage() queue.Stage {
	return queue.StageThumbnailing
}

// Execute extracts the thumbnail for a job and returns the artifact path.
func (e *Executor) Execute(ctx context.Context, job *queue.Job) (string, error) {
	if job.ThumbnailFile != "" && e.artifacts.Exists(job.ID, queue.StageThumbnailing) {
		return job.ThumbnailFile, nil
	}

	if job.VideoFile == "" {
		return "", services.Wrap(services.ErrValidation, "thumbnailing", "extract",
			"Job has no video artifact; reopen the job at assembly", nil)
	}
	if _, err := os.Stat(job.VideoFile); err != nil {
		return "", services.Wrap(services.ErrValidation, "thumbnailing", "extract",
			"Video artifact missing on disk; reopen the job at assembly", err)
	}

	output := e.artifacts.Path(job.ID, queue.StageThumbnailing)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", "1",
		"-i", job.VideoFile,
		"-frames:v", "1",
		output,
	}
	cmd := exec.CommandContext(ctx, e.ffmpegBinary(), args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrTimeout, "thumbnailing", "extract", "Extraction interrupted", ctx.Err())
		}
		return "", services.Wrap(services.ErrTransient, "thumbnailing", "extract",
			"ffmpeg frame extraction failed", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return "", services.Wrap(services.ErrTransient, "thumbnailing", "extract", "Extraction produced no output", err)
	}

	e.logger.Info("thumbnail extracted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "stage_artifact"))
	return output, nil
}

// HealthCheck reports whether the ffmpeg binary is reachable.
func (e *Executor) HealthCheck(_ context.Context) stage.Health {
	if _, err := exec.LookPath(e.ffmpegBinary()); err != nil {
		return stage.Unhealthy(queue.StageThumbnailing, fmt.Sprintf("ffmpeg not found: %v", err))
	}
	return stage.Healthy(queue.StageThumbnailing)
}

func (e *Executor) ffmpegBinary() string {
	if binary := strings.TrimSpace(e.cfg.FFmpegBinary); binary != "" {
		return binary
	}
	return "ffmpeg"
}
