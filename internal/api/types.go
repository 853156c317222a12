package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a pipeline job in a transport-friendly format.
type Job struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	Stage           string          `json:"stage"`
	FailedStage     string          `json:"failedStage,omitempty"`
	Attempts        int             `json:"attempts"`
	NextRetryAt     string          `json:"nextRetryAt,omitempty"`
	ScriptFile      string          `json:"scriptFile,omitempty"`
	AudioFile       string          `json:"audioFile,omitempty"`
	VideoFile       string          `json:"videoFile,omitempty"`
	ThumbnailFile   string          `json:"thumbnailFile,omitempty"`
	PublishURL      string          `json:"publishUrl,omitempty"`
	LastError       string          `json:"lastError,omitempty"`
	CancelRequested bool            `json:"cancelRequested"`
	Input           json.RawMessage `json:"input,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
}

// CreateJobRequest is the payload for submitting a new job.
type CreateJobRequest struct {
	Title string          `json:"title"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ReopenRequest names the stage a finished job should be reopened at.
type ReopenRequest struct {
	Stage string `json:"stage"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// StatsResponse provides queue counts keyed by stage name.
type StatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// ClearResponse reports how many rows a maintenance call removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// StageHealth mirrors readiness reporting for stage executors.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse aggregates store and executor readiness.
type HealthResponse struct {
	Healthy     bool          `json:"healthy"`
	Detail      string        `json:"detail,omitempty"`
	StageHealth []StageHealth `json:"stageHealth"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	QueueStats   map[string]int `json:"queueStats"`
	StageHealth  []StageHealth  `json:"stageHealth"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
