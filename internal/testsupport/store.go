package testsupport

import (
	"context"
	"testing"

	"dramapipe/internal/config"
	"dramapipe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a queued job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, title string) *queue.Job {
	t.Helper()

	job, err := store.Create(context.Background(), title, `{"genre":"mystery"}`)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

// AdvanceTo walks a job forward through the pipeline until it sits at the
// target stage, recording a synthetic artifact for every stage it passes.
func AdvanceTo(t testing.TB, store *queue.Store, id int64, target queue.Stage) *queue.Job {
	t.Helper()

	ctx := context.Background()
	job, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("store.GetByID: %v", err)
	}
	for job.Stage != target {
		next, ok := queue.NextStage(job.Stage)
		if !ok {
			t.Fatalf("no stage follows %s while advancing to %s", job.Stage, target)
		}
		artifact := ""
		if queue.IsExecutable(job.Stage) {
			artifact = "artifact-" + string(job.Stage)
		}
		job, err = store.Transition(ctx, id, job.Stage, next, artifact)
		if err != nil {
			t.Fatalf("store.Transition to %s: %v", next, err)
		}
	}
	return job
}
