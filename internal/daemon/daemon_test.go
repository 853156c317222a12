package daemon_test

import (
	"context"
	"errors"
	"testing"

	"dramapipe/internal/config"
	"dramapipe/internal/daemon"
	"dramapipe/internal/queue"
	"dramapipe/internal/testsupport"
	"dramapipe/internal/workflow"
)

func newTestDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *queue.Store, *testsupport.FakeBroker) {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	d, err := daemon.New(cfg, store, nil, daemon.Components{
		Intake:     workflow.NewIntake(store, fake, nil),
		Dispatcher: workflow.NewDispatcher(cfg, store, fake, nil),
		Sweeper:    workflow.NewSweeper(cfg, store, fake, nil),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, store, fake
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _, _ := newTestDaemon(t, cfg)
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, _, _ := newTestDaemon(t, cfg)
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}
}

func TestDaemonSubmitEnqueuesFirstStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _, fake := newTestDaemon(t, cfg)

	job, err := d.Submit(context.Background(), "Episode", `{"genre":"noir"}`)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Stage != queue.StageScripting {
		t.Fatalf("stage = %s, want scripting", job.Stage)
	}
	deliveries := fake.Drain()
	if len(deliveries) != 1 || deliveries[0].Unit.Stage != queue.StageScripting {
		t.Fatalf("deliveries = %+v", deliveries)
	}
}

func TestDaemonRetryResumesAtFailedStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, store, fake := newTestDaemon(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "Parked")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageAssembly)
	if _, err := store.RecordFailure(ctx, job.ID, queue.StageAssembly, "boom", false, 3, 0); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	fake.Drain()

	revived, err := d.Retry(ctx, job.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if revived.Stage != queue.StageAssembly {
		t.Fatalf("stage = %s, want assembly", revived.Stage)
	}
	if revived.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0", revived.Attempts)
	}
	deliveries := fake.Drain()
	if len(deliveries) != 1 || deliveries[0].Unit.Stage != queue.StageAssembly {
		t.Fatalf("deliveries = %+v", deliveries)
	}
}

func TestDaemonRetryRejectsNonFailedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, store, _ := newTestDaemon(t, cfg)

	job := testsupport.NewJob(t, store, "Active")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	if _, err := d.Retry(context.Background(), job.ID); !errors.Is(err, queue.ErrInvalidStage) {
		t.Fatalf("Retry error = %v, want ErrInvalidStage", err)
	}
}

func TestDaemonReopenDiscardsDownstreamArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, store, fake := newTestDaemon(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "Reopen")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StagePublishing)
	if _, err := store.RecordFailure(ctx, job.ID, queue.StagePublishing, "rejected", false, 3, 0); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	fake.Drain()

	reopened, err := d.Reopen(ctx, job.ID, queue.StageVoiceSynthesis)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if reopened.Stage != queue.StageVoiceSynthesis {
		t.Fatalf("stage = %s, want voice_synthesis", reopened.Stage)
	}
	if reopened.ScriptFile == "" {
		t.Fatal("script artifact should survive a voice reopen")
	}
	if reopened.AudioFile != "" || reopened.VideoFile != "" || reopened.ThumbnailFile != "" {
		t.Fatalf("downstream artifacts survived: %+v", reopened.Artifacts())
	}
}

func TestDaemonRemoveRequiresTerminalStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, store, _ := newTestDaemon(t, cfg)
	ctx := context.Background()

	active := testsupport.NewJob(t, store, "Active")
	testsupport.AdvanceTo(t, store, active.ID, queue.StageScripting)
	if err := d.Remove(ctx, active.ID); !errors.Is(err, queue.ErrInvalidStage) {
		t.Fatalf("Remove error = %v, want ErrInvalidStage", err)
	}

	done := testsupport.NewJob(t, store, "Done")
	testsupport.AdvanceTo(t, store, done.ID, queue.StageCompleted)
	if err := d.Remove(ctx, done.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.GetByID(ctx, done.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("GetByID error = %v, want ErrNotFound", err)
	}
}
