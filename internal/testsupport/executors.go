package testsupport

import (
	"context"
	"sync"

	"dramapipe/internal/queue"
	"dramapipe/internal/stage"
)

// StepResult scripts one Execute call on a ScriptedExecutor.
type StepResult struct {
	Artifact string
	Err      error
}

// ScriptedExecutor returns canned results per Execute call, in order. Calls
// past the end of the script repeat the final result.
type ScriptedExecutor struct {
	stage   queue.Stage
	mu      sync.Mutex
	script  []StepResult
	calls   int
	healthy bool
}

// NewScriptedExecutor builds an executor for the given stage replaying the
// provided results.
func NewScriptedExecutor(s queue.Stage, script ...StepResult) *ScriptedExecutor {
	if len(script) == 0 {
		script = []StepResult{{Artifact: "artifact-" + string(s)}}
	}
	return &ScriptedExecutor{stage: s, script: script, healthy: true}
}

// Stage returns the pipeline stage this executor serves.
func (e *ScriptedExecutor) Stage() queue.Stage {
	return e.stage
}

// Execute replays the next scripted result.
func (e *ScriptedExecutor) Execute(_ context.Context, _ *queue.Job) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.calls
	if idx >= len(e.script) {
		idx = len(e.script) - 1
	}
	e.calls++
	result := e.script[idx]
	return result.Artifact, result.Err
}

// HealthCheck reports the scripted readiness.
func (e *ScriptedExecutor) HealthCheck(context.Context) stage.Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.healthy {
		return stage.Healthy(e.stage)
	}
	return stage.Unhealthy(e.stage, "scripted failure")
}

// SetHealthy toggles the scripted health state.
func (e *ScriptedExecutor) SetHealthy(healthy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = healthy
}

// Calls returns how many times Execute ran.
func (e *ScriptedExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
