package stage

import (
	"context"

	"dramapipe/internal/queue"
)

// Executor describes the contract the dispatcher needs from each pipeline
// stage. Execute performs the stage's external work for a job and returns the
// artifact handle it produced. Executors must be idempotent: replaying a job
// whose side effect already happened returns the existing artifact rather
// than duplicating it.
type Executor interface {
	Stage() queue.Stage
	Execute(context.Context, *queue.Job) (string, error)
	HealthCheck(context.Context) Health
}
