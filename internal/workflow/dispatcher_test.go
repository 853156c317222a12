package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dramapipe/internal/broker"
	"dramapipe/internal/queue"
	"dramapipe/internal/services"
	"dramapipe/internal/stage"
	"dramapipe/internal/testsupport"
	"dramapipe/internal/workflow"
)

func TestDispatcherAdvancesOnSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	executor := testsupport.NewScriptedExecutor(queue.StageScripting,
		testsupport.StepResult{Artifact: "/tmp/script.json"})
	dispatcher.Register(executor)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Advance")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	unit := broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting}
	if err := dispatcher.Handle(ctx, unit); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Stage != queue.StageVoiceSynthesis {
		t.Fatalf("stage = %s, want %s", updated.Stage, queue.StageVoiceSynthesis)
	}
	if updated.ScriptFile != "/tmp/script.json" {
		t.Fatalf("ScriptFile = %q", updated.ScriptFile)
	}
	if updated.LeaseHolder != "" {
		t.Fatalf("lease not released: holder %q", updated.LeaseHolder)
	}
	deliveries := fake.Drain()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	next := deliveries[0].Unit
	if next.JobID != job.ID || next.Stage != queue.StageVoiceSynthesis || next.Attempt != 0 {
		t.Fatalf("unexpected next unit %+v", next)
	}
}

func TestDispatcherCompletesAfterPublishing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	dispatcher.Register(testsupport.NewScriptedExecutor(queue.StagePublishing,
		testsupport.StepResult{Artifact: "https://videos.example/v/1"}))

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Publish")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StagePublishing)

	if err := dispatcher.Handle(ctx, broker.WorkUnit{JobID: job.ID, Stage: queue.StagePublishing}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Stage != queue.StageCompleted {
		t.Fatalf("stage = %s, want %s", updated.Stage, queue.StageCompleted)
	}
	if updated.PublishURL != "https://videos.example/v/1" {
		t.Fatalf("PublishURL = %q", updated.PublishURL)
	}
	if got := fake.Drain(); len(got) != 0 {
		t.Fatalf("terminal stage enqueued %d units", len(got))
	}
}

func TestDispatcherSchedulesRetryOnTransientError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	transient := services.Wrap(services.ErrTransient, "scripting", "generate", "Try again", errors.New("http 503"))
	executor := testsupport.NewScriptedExecutor(queue.StageScripting,
		testsupport.StepResult{Err: transient})
	dispatcher.Register(executor)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Retry")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	if err := dispatcher.Handle(ctx, broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Stage != queue.StageScripting {
		t.Fatalf("stage = %s, want scripting", updated.Stage)
	}
	if updated.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", updated.Attempts)
	}
	if updated.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
	if updated.NextRetryAt == nil {
		t.Fatal("expected a retry deadline")
	}
	deliveries := fake.Drain()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	if deliveries[0].Delay <= 0 {
		t.Fatalf("retry delay = %v, want > 0", deliveries[0].Delay)
	}
	if deliveries[0].Unit.Attempt != 1 {
		t.Fatalf("retry attempt = %d, want 1", deliveries[0].Unit.Attempt)
	}
}

func TestDispatcherParksJobOnFatalError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	fatal := services.Wrap(services.ErrValidation, "scripting", "generate", "Fix the input", errors.New("empty prompt"))
	dispatcher.Register(testsupport.NewScriptedExecutor(queue.StageScripting,
		testsupport.StepResult{Err: fatal}))

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Fatal")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	if err := dispatcher.Handle(ctx, broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Stage != queue.StageFailed {
		t.Fatalf("stage = %s, want failed", updated.Stage)
	}
	if updated.FailedStage != queue.StageScripting {
		t.Fatalf("failed stage = %s, want scripting", updated.FailedStage)
	}
	if got := fake.Drain(); len(got) != 0 {
		t.Fatalf("parked job enqueued %d units", len(got))
	}
}

func TestDispatcherExhaustsRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(2))
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	transient := services.Wrap(services.ErrTransient, "scripting", "generate", "Try again", errors.New("http 500"))
	executor := testsupport.NewScriptedExecutor(queue.StageScripting,
		testsupport.StepResult{Err: transient})
	dispatcher.Register(executor)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Budget")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	unit := broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting}
	if err := dispatcher.Handle(ctx, unit); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	deliveries := fake.Drain()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries after first failure = %d, want 1", len(deliveries))
	}
	if err := dispatcher.Handle(ctx, deliveries[0].Unit); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Stage != queue.StageFailed {
		t.Fatalf("stage = %s, want failed", updated.Stage)
	}
	if updated.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", updated.Attempts)
	}
	if got := fake.Drain(); len(got) != 0 {
		t.Fatalf("exhausted job enqueued %d units", len(got))
	}
	if executor.Calls() != 2 {
		t.Fatalf("executor ran %d times, want 2", executor.Calls())
	}
}

func TestDispatcherDropsStaleUnit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	executor := testsupport.NewScriptedExecutor(queue.StageScripting)
	dispatcher.Register(executor)

	job := testsupport.NewJob(t, store, "Stale")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageAssembly)

	unit := broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting}
	if err := dispatcher.Handle(context.Background(), unit); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if executor.Calls() != 0 {
		t.Fatalf("executor ran %d times for a stale unit", executor.Calls())
	}
	if got := fake.Drain(); len(got) != 0 {
		t.Fatalf("stale unit produced %d deliveries", len(got))
	}
}

func TestDispatcherDropsUnitForMissingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	dispatcher.Register(testsupport.NewScriptedExecutor(queue.StageScripting))

	unit := broker.WorkUnit{JobID: 9999, Stage: queue.StageScripting}
	if err := dispatcher.Handle(context.Background(), unit); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := fake.Drain(); len(got) != 0 {
		t.Fatalf("missing job produced %d deliveries", len(got))
	}
}

func TestDispatcherRequeuesWhenLeaseHeld(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	executor := testsupport.NewScriptedExecutor(queue.StageScripting)
	dispatcher.Register(executor)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Leased")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)
	if _, err := store.AcquireLease(ctx, job.ID, "other-worker", time.Minute); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}

	unit := broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting}
	if err := dispatcher.Handle(ctx, unit); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if executor.Calls() != 0 {
		t.Fatalf("executor ran %d times under a foreign lease", executor.Calls())
	}
	deliveries := fake.Drain()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1 delayed requeue", len(deliveries))
	}
	if deliveries[0].Delay <= 0 {
		t.Fatalf("requeue delay = %v, want > 0", deliveries[0].Delay)
	}
	if deliveries[0].Unit != unit {
		t.Fatalf("requeued unit %+v, want %+v", deliveries[0].Unit, unit)
	}
}

func TestDispatcherFinalizesCancelBeforeExecution(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	executor := testsupport.NewScriptedExecutor(queue.StageVoiceSynthesis)
	dispatcher.Register(executor)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Cancelled")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageVoiceSynthesis)
	if _, err := store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	unit := broker.WorkUnit{JobID: job.ID, Stage: queue.StageVoiceSynthesis}
	if err := dispatcher.Handle(ctx, unit); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Stage != queue.StageCancelled {
		t.Fatalf("stage = %s, want cancelled", updated.Stage)
	}
	if executor.Calls() != 0 {
		t.Fatalf("executor ran %d times for a cancelled job", executor.Calls())
	}
	if updated.ScriptFile == "" {
		t.Fatal("existing artifacts should survive cancellation")
	}
}

// cancellingExecutor requests cancellation of its own job mid-flight, then
// succeeds, mimicking an operator cancel racing a running stage.
type cancellingExecutor struct {
	store *queue.Store
}

func (e *cancellingExecutor) Stage() queue.Stage { return queue.StageScripting }

func (e *cancellingExecutor) Execute(ctx context.Context, job *queue.Job) (string, error) {
	if _, err := e.store.RequestCancel(ctx, job.ID); err != nil {
		return "", err
	}
	return "/tmp/script.json", nil
}

func (e *cancellingExecutor) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(queue.StageScripting)
}

func TestDispatcherCancelWinsOverOutcome(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	dispatcher.Register(&cancellingExecutor{store: store})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Race")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	if err := dispatcher.Handle(ctx, broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Stage != queue.StageCancelled {
		t.Fatalf("stage = %s, want cancelled", updated.Stage)
	}
	if got := fake.Drain(); len(got) != 0 {
		t.Fatalf("cancelled job enqueued %d units", len(got))
	}
}

func TestDispatcherErrorsWithoutExecutor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := workflow.NewDispatcher(cfg, store, testsupport.NewFakeBroker(), nil)

	job := testsupport.NewJob(t, store, "NoExecutor")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	err := dispatcher.Handle(context.Background(), broker.WorkUnit{JobID: job.ID, Stage: queue.StageScripting})
	if err == nil {
		t.Fatal("expected an error for an unregistered stage")
	}
}

func TestDispatcherStageHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := workflow.NewDispatcher(cfg, store, testsupport.NewFakeBroker(), nil)
	healthy := testsupport.NewScriptedExecutor(queue.StageScripting)
	sick := testsupport.NewScriptedExecutor(queue.StageVoiceSynthesis)
	sick.SetHealthy(false)
	dispatcher.Register(healthy)
	dispatcher.Register(sick)

	healths := dispatcher.StageHealth(context.Background())
	if len(healths) != 2 {
		t.Fatalf("health entries = %d, want 2", len(healths))
	}
	byStage := make(map[queue.Stage]stage.Health, len(healths))
	for _, h := range healths {
		byStage[h.Stage] = h
	}
	if !byStage[queue.StageScripting].Ready {
		t.Fatal("scripting executor should be ready")
	}
	if byStage[queue.StageVoiceSynthesis].Ready {
		t.Fatal("voice executor should be unready")
	}
}
