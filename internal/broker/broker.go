package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dramapipe/internal/queue"
)

// WorkUnit is the broker message instructing a worker to run one stage
// attempt for a job. The stage always matches the job's persisted stage at
// enqueue time; workers re-check against the store before executing.
type WorkUnit struct {
	JobID   int64       `json:"job_id"`
	Stage   queue.Stage `json:"stage"`
	Attempt int         `json:"attempt"`
}

// Marshal encodes a work unit for transport.
func (u WorkUnit) Marshal() ([]byte, error) {
	return json.Marshal(u)
}

// UnmarshalWorkUnit decodes a transported work unit.
func UnmarshalWorkUnit(data []byte) (WorkUnit, error) {
	var unit WorkUnit
	if err := json.Unmarshal(data, &unit); err != nil {
		return WorkUnit{}, fmt.Errorf("decode work unit: %w", err)
	}
	if unit.JobID <= 0 {
		return WorkUnit{}, fmt.Errorf("work unit missing job id")
	}
	if !queue.IsExecutable(unit.Stage) {
		return WorkUnit{}, fmt.Errorf("work unit stage %q is not executable", unit.Stage)
	}
	return unit, nil
}

// Broker hands work units to the worker pool. Delivery is at-least-once;
// duplicate deliveries are absorbed downstream by stage checks, leases, and
// compare-and-set transitions.
type Broker interface {
	// Enqueue publishes a work unit for immediate processing.
	Enqueue(ctx context.Context, unit WorkUnit) error
	// EnqueueIn publishes a work unit for processing after the delay.
	EnqueueIn(ctx context.Context, unit WorkUnit, delay time.Duration) error
	// Close releases broker resources.
	Close() error
}
