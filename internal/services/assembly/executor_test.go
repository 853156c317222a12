package assembly

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"dramapipe/internal/artifacts"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
	"dramapipe/internal/services"
	"dramapipe/internal/testsupport"
)

func TestExecuteRendersVideo(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Assembly.FFmpegBinary = testsupport.WriteFakeFFmpeg(t, filepath.Join(testsupport.BaseDir(cfg), "bin"))
	artStore := artifacts.NewStore(cfg)

	audioPath := artStore.Path(4, queue.StageVoiceSynthesis)
	testsupport.WriteFile(t, audioPath, "mpeg-bytes")

	executor := NewExecutor(cfg.Assembly, artStore, logging.NewNop())
	if executor.Stage() != queue.StageAssembly {
		t.Fatalf("stage = %s", executor.Stage())
	}

	job := &queue.Job{ID: 4, Title: "T", AudioFile: audioPath}
	path, err := executor.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if path != artStore.Path(4, queue.StageAssembly) {
		t.Fatalf("artifact path = %q", path)
	}
	if !artStore.Exists(4, queue.StageAssembly) {
		t.Fatal("video artifact missing")
	}
}

func TestExecuteRequiresAudio(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	executor := NewExecutor(cfg.Assembly, artifacts.NewStore(cfg), logging.NewNop())

	job := &queue.Job{ID: 4, Title: "T"}
	if _, err := executor.Execute(context.Background(), job); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	job.AudioFile = "/nonexistent/audio.mp3"
	if _, err := executor.Execute(context.Background(), job); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing file, got %v", err)
	}
}

func TestExecuteReplayReturnsExistingArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Assembly.FFmpegBinary = "/nonexistent/ffmpeg"
	artStore := artifacts.NewStore(cfg)

	videoPath, err := artStore.Write(4, queue.StageAssembly, []byte("mp4"))
	if err != nil {
		t.Fatalf("write video artifact: %v", err)
	}

	executor := NewExecutor(cfg.Assembly, artStore, logging.NewNop())
	job := &queue.Job{ID: 4, Title: "T", VideoFile: videoPath}
	path, err := executor.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("replay should not invoke ffmpeg: %v", err)
	}
	if path != videoPath {
		t.Fatalf("replay path = %q", path)
	}
}

func TestHealthCheckReportsMissingBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Assembly.FFmpegBinary = "/nonexistent/ffmpeg"
	executor := NewExecutor(cfg.Assembly, artifacts.NewStore(cfg), logging.NewNop())

	health := executor.HealthCheck(context.Background())
	if health.Ready {
		t.Fatal("expected unhealthy for missing binary")
	}
	if health.Stage != queue.StageAssembly {
		t.Fatalf("health stage = %s", health.Stage)
	}
}

func TestRenderArgsBackgroundFallback(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	executor := NewExecutor(cfg.Assembly, artifacts.NewStore(cfg), logging.NewNop())

	args := executor.renderArgs("/a.mp3", "/v.mp4")
	found := false
	for _, arg := range args {
		if arg == "lavfi" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected lavfi color source without a background image")
	}
}
