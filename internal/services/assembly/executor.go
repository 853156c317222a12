package assembly

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

// Executor runs the assembly stage: it renders the narration audio and a
// background visual into the final video with ffmpeg. The operation is local
// and deterministic, so a replay simply rewrites the same output file.
type Executor struct {
	cfg       config.Assembly
	artifacts *artifacts.Store
	logger    *slog.Logger
}

// NewExecutor wires the assembly stage.
func NewExecutor(cfg config.Assembly, store *artifacts.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:       cfg,
		artifacts: store,
		logger:    logging.NewComponentLogger(logger, "assembly"),
	}
}

// Stage identifies the pipeline stage this executor serves.
func (e *Executor) Stage() queue.Stage {
	return queue.StageAssembly
}

// Execute renders the video for a job and returns the artifact path.
func (e *Executor) Execute(ctx context.Context, job *queue.Job) (string, error) {
	if job.VideoFile != "" && e.artifacts.Exists(job.ID, queue.StageAssembly) {
		return job.VideoFile, nil
	}

	if job.AudioFile == "" {
		return "", services.Wrap(services.ErrValidation, "assembly", "render",
			"Job has no audio artifact; reopen the job at voice_synthesis", nil)
	}
	if _, err := os.Stat(job.AudioFile); err != nil {
		return "", services.Wrap(services.ErrValidation, "assembly", "render",
			"Audio artifact missing on disk; reopen the job at voice_synthesis", err)
	}

	output := e.artifacts.Path(job.ID, queue.StageAssembly)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}

	args := e.renderArgs(job.AudioFile, output)
	cmd := exec.CommandContext(ctx, e.ffmpegBinary(), args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrTimeout, "assembly", "render", "Render interrupted", ctx.Err())
		}
		return "", services.Wrap(services.ErrTransient, "assembly", "render",
			"ffmpeg render failed", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return "", services.Wrap(services.ErrTransient, "assembly", "render", "Render produced no output", err)
	}

	e.logger.Info("video assembled",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int64("video_bytes", info.Size()),
		logging.String(logging.FieldEventType, "stage_artifact"))
	return output, nil
}

// HealthCheck reports whether the ffmpeg binary is reachable.
func (e *Executor) HealthCheck(_ context.Context) stage.Health {
	if _, err := exec.LookPath(e.ffmpegBinary()); err != nil {
		return stage.Unhealthy(queue.StageAssembly, fmt.Sprintf("ffmpeg not found: %v", err))
	}
	return stage.Healthy(queue.StageAssembly)
}

func (e *Executor) ffmpegBinary() string {
	if binary := strings.TrimSpace(e.cfg.FFmpegBinary); binary != "" {
		return binary
	}
	return "ffmpeg"
}

func (e *Executor) renderArgs(audio, output string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	if bg := strings.TrimSpace(e.cfg.BackgroundImage); bg != "" {
		args = append(args, "-loop", "1", "-i", bg)
	} else {
		args = append(args, "-f", "lavfi", "-i", "color=c=black:s=1280x720:r=25")
	}
	args = append(args,
		"-i", audio,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-pix_fmt", "yuv420p",
		"-shortest",
		output,
	)
	return args
}
