package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"dramapipe/internal/config"
	"dramapipe/internal/queue"
)

// Store lays out stage artifacts on disk under the staging directory, one
// directory per job. Artifact paths are deterministic so a replayed stage
// lands on the same file instead of creating a sibling.
type Store struct {
	root string
}

// NewStore builds an artifact store rooted at the configured staging dir.
func NewStore(cfg *config.Config) *Store {
	return &Store{root: cfg.Paths.StagingDir}
}

// JobDir returns the directory holding all artifacts for a job.
func (s *Store) JobDir(jobID int64) string {
	return filepath.Join(s.root, "jobs", strconv.FormatInt(jobID, 10))
}

// Path returns the canonical artifact path for a job and stage.
func (s *Store) Path(jobID int64, stage queue.Stage) string {
	return filepath.Join(s.JobDir(jobID), fileName(stage))
}

// Write persists artifact bytes for a job and stage, creating the job
// directory as needed, and returns the canonical path.
func (s *Store) Write(jobID int64, stage queue.Stage, data []byte) (string, error) {
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	path := s.Path(jobID, stage)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// Exists reports whether the artifact file for a job and stage is present
// and non-empty.
func (s *Store) Exists(jobID int64, stage queue.Stage) bool {
	info, err := os.Stat(s.Path(jobID, stage))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Remove deletes every artifact for a job.
func (s *Store) Remove(jobID int64) error {
	return os.RemoveAll(s.JobDir(jobID))
}

func fileName(stage queue.Stage) string {
	switch stage {
	case queue.StageScripting:
		return "script.json"
	case queue.StageVoiceSynthesis:
		return "audio.mp3"
	case queue.StageAssembly:
		return "video.mp4"
	case queue.StageThumbnailing:
		return "thumbnail.png"
	default:
		return string(stage) + ".dat"
	}
}
