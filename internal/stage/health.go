package stage

import "dramapipe/internal/queue"

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Stage  queue.Stage
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(stage queue.Stage) Health {
	return Health{Stage: stage, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(stage queue.Stage, detail string) Health {
	return Health{Stage: stage, Ready: false, Detail: detail}
}
