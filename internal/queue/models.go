package queue

import (
	"fmt"
	"strings"
	"time"
)

// Stage represents a job's position in the content pipeline.
type Stage string

const (
	StageQueued         Stage = "queued"
	StageScripting      Stage = "scripting"
	StageVoiceSynthesis Stage = "voice_synthesis"
	StageAssembly       Stage = "assembly"
	StageThumbnailing   Stage = "thumbnailing"
	StagePublishing     Stage = "publishing"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
	StageCancelled      Stage = "cancelled"
)

var sequence = []Stage{
	StageQueued,
	StageScripting,
	StageVoiceSynthesis,
	StageAssembly,
	StageThumbnailing,
	StagePublishing,
	StageCompleted,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(sequence)+2)
	for _, stage := range sequence {
		set[stage] = struct{}{}
	}
	set[StageFailed] = struct{}{}
	set[StageCancelled] = struct{}{}
	return set
}()

// Sequence returns the fixed forward pipeline order, queued through completed.
func Sequence() []Stage {
	cp := make([]Stage, len(sequence))
	copy(cp, sequence)
	return cp
}

// ExecutableStages returns the stages that invoke an external capability.
func ExecutableStages() []Stage {
	return []Stage{StageScripting, StageVoiceSynthesis, StageAssembly, StageThumbnailing, StagePublishing}
}

// NextStage returns the stage following s in the fixed sequence. The second
// return is false for terminal and side states.
func NextStage(s Stage) (Stage, bool) {
	for i, stage := range sequence {
		if stage == s && i+1 < len(sequence) {
			return sequence[i+1], true
		}
	}
	return "", false
}

// Ordinal returns the position of a stage in the forward sequence, or -1 for
// failed/cancelled/unknown stages.
func Ordinal(s Stage) int {
	for i, stage := range sequence {
		if stage == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether a stage accepts no further transitions.
func IsTerminal(s Stage) bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// IsExecutable reports whether a stage has an executor behind it.
func IsExecutable(s Stage) bool {
	switch s {
	case StageScripting, StageVoiceSynthesis, StageAssembly, StageThumbnailing, StagePublishing:
		return true
	default:
		return false
	}
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// Job represents a content-generation request persisted in SQLite.
type Job struct {
	ID              int64
	Title           string
	InputJSON       string
	Stage           Stage
	FailedStage     Stage
	Attempts        int
	NextRetryAt     *time.Time
	ScriptFile      string
	AudioFile       string
	VideoFile       string
	ThumbnailFile   string
	PublishURL      string
	LastError       string
	CancelRequested bool
	LeaseHolder     string
	LeaseExpiresAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the job accepts no further automatic transitions.
func (j *Job) IsTerminal() bool {
	return IsTerminal(j.Stage)
}

// IdempotencyKey derives the deterministic key passed to external providers
// for the given stage. Replaying the same key must not duplicate side effects.
func (j *Job) IdempotencyKey(stage Stage) string {
	return fmt.Sprintf("job-%d-%s", j.ID, stage)
}

// ArtifactFor returns the artifact handle produced by the given stage, if any.
func (j *Job) ArtifactFor(stage Stage) string {
	switch stage {
	case StageScripting:
		return j.ScriptFile
	case StageVoiceSynthesis:
		return j.AudioFile
	case StageAssembly:
		return j.VideoFile
	case StageThumbnailing:
		return j.ThumbnailFile
	case StagePublishing:
		return j.PublishURL
	default:
		return ""
	}
}

// Artifacts returns the populated artifact handles keyed by producing stage.
func (j *Job) Artifacts() map[Stage]string {
	out := make(map[Stage]string, 5)
	for _, stage := range ExecutableStages() {
		if handle := j.ArtifactFor(stage); handle != "" {
			out[stage] = handle
		}
	}
	return out
}

// LeaseExpired reports whether the job's lease has lapsed at the given time.
// A job with no lease is not considered expired.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// DatabaseHealth captures diagnostic information about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

func artifactColumn(stage Stage) (string, bool) {
	switch stage {
	case StageScripting:
		return "script_file", true
	case StageVoiceSynthesis:
		return "audio_file", true
	case StageAssembly:
		return "video_file", true
	case StageThumbnailing:
		return "thumbnail_file", true
	case StagePublishing:
		return "publish_url", true
	default:
		return "", false
	}
}
