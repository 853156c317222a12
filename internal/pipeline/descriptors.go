package pipeline

import (
	"time"

	"dramapipe/internal/config"
	"dramapipe/internal/queue"
)

// Descriptor carries the execution policy for a single pipeline stage:
// how many attempts it gets, how long each may run, and how retries back off.
type Descriptor struct {
	Stage       queue.Stage
	MaxAttempts int
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DescriptorFor resolves the effective policy for a stage, applying any
// per-stage override from configuration on top of the pipeline defaults.
func DescriptorFor(cfg *config.Config, stage queue.Stage) Descriptor {
	desc := Descriptor{
		Stage:       stage,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Timeout:     time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second,
		BackoffBase: time.Duration(cfg.Pipeline.BackoffBaseSeconds) * time.Second,
		BackoffCap:  time.Duration(cfg.Pipeline.BackoffCapSeconds) * time.Second,
	}
	if override, ok := cfg.Pipeline.StageOverrides[string(stage)]; ok {
		if override.MaxAttempts > 0 {
			desc.MaxAttempts = override.MaxAttempts
		}
		if override.TimeoutSeconds > 0 {
			desc.Timeout = time.Duration(override.TimeoutSeconds) * time.Second
		}
	}
	return desc
}

// Descriptors resolves policies for every executable stage.
func Descriptors(cfg *config.Config) map[queue.Stage]Descriptor {
	out := make(map[queue.Stage]Descriptor, len(queue.ExecutableStages()))
	for _, stage := range queue.ExecutableStages() {
		out[stage] = DescriptorFor(cfg, stage)
	}
	return out
}
