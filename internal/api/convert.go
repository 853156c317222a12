package api

import (
	"encoding/json"
	"sort"

	"dramapipe/internal/queue"
	"dramapipe/internal/stage"
)

// FromJob converts a queue record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:              job.ID,
		Title:           job.Title,
		Stage:           string(job.Stage),
		FailedStage:     string(job.FailedStage),
		Attempts:        job.Attempts,
		ScriptFile:      job.ScriptFile,
		AudioFile:       job.AudioFile,
		VideoFile:       job.VideoFile,
		ThumbnailFile:   job.ThumbnailFile,
		PublishURL:      job.PublishURL,
		LastError:       job.LastError,
		CancelRequested: job.CancelRequested,
	}
	if job.NextRetryAt != nil {
		dto.NextRetryAt = job.NextRetryAt.UTC().Format(dateTimeFormat)
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if raw := job.InputJSON; raw != "" {
		dto.Input = json.RawMessage(raw)
	}
	return dto
}

// FromJobs converts a slice of queue records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// MergeStats converts stage-keyed counts into the string-keyed API shape.
func MergeStats(stats map[queue.Stage]int) map[string]int {
	out := make(map[string]int, len(stats))
	for s, count := range stats {
		out[string(s)] = count
	}
	return out
}

// FromStageHealth flattens executor health reports into a deterministic,
// pipeline-ordered slice.
func FromStageHealth(healths []stage.Health) []StageHealth {
	if len(healths) == 0 {
		return nil
	}
	sorted := make([]stage.Health, len(healths))
	copy(sorted, healths)
	sort.Slice(sorted, func(i, j int) bool {
		return queue.Ordinal(sorted[i].Stage) < queue.Ordinal(sorted[j].Stage)
	})
	out := make([]StageHealth, 0, len(sorted))
	for _, h := range sorted {
		out = append(out, StageHealth{
			Name:   string(h.Stage),
			Ready:  h.Ready,
			Detail: h.Detail,
		})
	}
	return out
}
