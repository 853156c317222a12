package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dramapipe/internal/queue"
	"dramapipe/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.Create(ctx, "Midnight Harbor", `{"genre":"mystery"}`)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Stage != queue.StageQueued {
		t.Fatalf("new job stage = %s, want queued", job.Stage)
	}
	if job.Attempts != 0 {
		t.Fatalf("new job attempts = %d, want 0", job.Attempts)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Title != "Midnight Harbor" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Create(context.Background(), "  ", "{}"); err == nil {
		t.Fatal("expected error when title missing")
	}
}

func TestGetByIDMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.GetByID(context.Background(), 9999); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionAdvancesAndRecordsArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Transition Job")

	job, err := store.Transition(ctx, job.ID, queue.StageQueued, queue.StageScripting, "")
	if err != nil {
		t.Fatalf("Transition queued->scripting failed: %v", err)
	}
	if job.Stage != queue.StageScripting {
		t.Fatalf("stage = %s, want scripting", job.Stage)
	}

	job, err = store.Transition(ctx, job.ID, queue.StageScripting, queue.StageVoiceSynthesis, "/staging/jobs/1/script.json")
	if err != nil {
		t.Fatalf("Transition scripting->voice failed: %v", err)
	}
	if job.Stage != queue.StageVoiceSynthesis {
		t.Fatalf("stage = %s, want voice_synthesis", job.Stage)
	}
	if job.ScriptFile != "/staging/jobs/1/script.json" {
		t.Fatalf("script artifact = %q", job.ScriptFile)
	}
	if job.Attempts != 0 {
		t.Fatalf("attempts after transition = %d, want 0", job.Attempts)
	}
}

func TestTransitionStageMismatchConflicts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "Conflict Job")

	_, err := store.Transition(context.Background(), job.ID, queue.StageScripting, queue.StageVoiceSynthesis, "")
	if !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTransitionRejectsSkips(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "Skip Job")

	_, err := store.Transition(context.Background(), job.ID, queue.StageQueued, queue.StageAssembly, "")
	if !errors.Is(err, queue.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}

func TestTransitionArtifactAppendOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Append Once")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageVoiceSynthesis)

	original := job.ScriptFile
	if original == "" {
		t.Fatal("expected script artifact after advancing past scripting")
	}

	// A reopened rerun over the same stage must not replace the handle.
	failed, err := store.RecordFailure(ctx, job.ID, queue.StageVoiceSynthesis, "boom", false, 3, 0)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if failed.Stage != queue.StageFailed {
		t.Fatalf("stage = %s, want failed", failed.Stage)
	}
	reopened, err := store.Reopen(ctx, job.ID, queue.StageVoiceSynthesis)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if reopened.ScriptFile != original {
		t.Fatalf("script artifact changed on reopen: %q", reopened.ScriptFile)
	}
	if _, err := store.Transition(ctx, job.ID, queue.StageVoiceSynthesis, queue.StageAssembly, "/other/audio.mp3"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	again, err := store.Transition(ctx, job.ID, queue.StageAssembly, queue.StageThumbnailing, "/video.mp4")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if again.ScriptFile != original {
		t.Fatalf("script artifact overwritten: %q", again.ScriptFile)
	}
}

func TestConcurrentTransitionSingleWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Race Job")

	const contenders = 8
	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transition(ctx, job.ID, queue.StageQueued, queue.StageScripting, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, queue.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected transition error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("transition winners = %d, want exactly 1", wins)
	}
	if conflicts != contenders-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, contenders-1)
	}

	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Stage != queue.StageScripting {
		t.Fatalf("final stage = %s, want scripting", final.Stage)
	}
}

func TestRecordFailureSchedulesRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Retry Job")
	job = testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	before := time.Now().UTC()
	updated, err := store.RecordFailure(ctx, job.ID, queue.StageScripting, "provider 503", true, 3, 30*time.Second)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if updated.Stage != queue.StageScripting {
		t.Fatalf("stage = %s, want scripting", updated.Stage)
	}
	if updated.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", updated.Attempts)
	}
	if updated.NextRetryAt == nil {
		t.Fatal("expected next_retry_at to be set")
	}
	if updated.NextRetryAt.Before(before.Add(29 * time.Second)) {
		t.Fatalf("retry scheduled too soon: %s", updated.NextRetryAt)
	}
	if updated.LastError != "provider 503" {
		t.Fatalf("last error = %q", updated.LastError)
	}
}

func TestRecordFailureExhaustionParksJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Exhausted Job")
	testsupport.AdvanceTo(t, store, job.ID, queue.StagePublishing)

	for attempt := 0; attempt < 3; attempt++ {
		updated, err := store.RecordFailure(ctx, job.ID, queue.StagePublishing, "upload rejected", true, 3, time.Second)
		if err != nil {
			t.Fatalf("RecordFailure attempt %d failed: %v", attempt, err)
		}
		if attempt < 2 {
			if updated.Stage != queue.StagePublishing {
				t.Fatalf("attempt %d stage = %s, want publishing", attempt, updated.Stage)
			}
			// Claim the retry so the next attempt can be recorded.
			if _, err := store.DueRetries(ctx, time.Now().Add(time.Hour), 0); err != nil {
				t.Fatalf("DueRetries failed: %v", err)
			}
			continue
		}
		if updated.Stage != queue.StageFailed {
			t.Fatalf("final stage = %s, want failed", updated.Stage)
		}
		if updated.FailedStage != queue.StagePublishing {
			t.Fatalf("failed stage = %s, want publishing", updated.FailedStage)
		}
		if updated.NextRetryAt != nil {
			t.Fatal("parked job should have no retry scheduled")
		}
	}
}

func TestRecordFailureFatalSkipsRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Fatal Job")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)

	updated, err := store.RecordFailure(ctx, job.ID, queue.StageScripting, "invalid api key", false, 3, time.Second)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if updated.Stage != queue.StageFailed {
		t.Fatalf("stage = %s, want failed", updated.Stage)
	}
	if updated.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", updated.Attempts)
	}
}

func TestRetryFailedRestoresFailingStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Restored Job")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageAssembly)
	if _, err := store.RecordFailure(ctx, job.ID, queue.StageAssembly, "encoder crashed", false, 3, 0); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	restored, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if restored.Stage != queue.StageAssembly {
		t.Fatalf("stage = %s, want assembly", restored.Stage)
	}
	if restored.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0", restored.Attempts)
	}
	if restored.LastError != "" {
		t.Fatalf("last error = %q, want cleared", restored.LastError)
	}
	if restored.ScriptFile == "" || restored.AudioFile == "" {
		t.Fatal("earlier artifacts should survive a retry")
	}
}

func TestRetryFailedRejectsNonFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "Still Running")
	if _, err := store.RetryFailed(context.Background(), job.ID); !errors.Is(err, queue.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}

func TestReopenClearsDownstreamArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Reopened Job")
	testsupport.AdvanceTo(t, store, job.ID, queue.StagePublishing)
	if _, err := store.RecordFailure(ctx, job.ID, queue.StagePublishing, "upload refused", false, 3, 0); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	reopened, err := store.Reopen(ctx, job.ID, queue.StageAssembly)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if reopened.Stage != queue.StageAssembly {
		t.Fatalf("stage = %s, want assembly", reopened.Stage)
	}
	if reopened.ScriptFile == "" || reopened.AudioFile == "" {
		t.Fatal("artifacts before the reopen target should survive")
	}
	if reopened.VideoFile != "" || reopened.ThumbnailFile != "" || reopened.PublishURL != "" {
		t.Fatalf("artifacts from the target onward should be cleared: %#v", reopened.Artifacts())
	}
	if reopened.FailedStage != "" {
		t.Fatalf("failed stage = %s, want cleared", reopened.FailedStage)
	}
}

func TestCancelFlow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Cancelled Job")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageVoiceSynthesis)

	flagged, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if !flagged.CancelRequested {
		t.Fatal("expected cancel_requested flag")
	}
	if flagged.Stage != queue.StageVoiceSynthesis {
		t.Fatalf("stage = %s, flag must not move the job", flagged.Stage)
	}

	cancelled, err := store.MarkCancelled(ctx, job.ID, queue.StageVoiceSynthesis)
	if err != nil {
		t.Fatalf("MarkCancelled failed: %v", err)
	}
	if cancelled.Stage != queue.StageCancelled {
		t.Fatalf("stage = %s, want cancelled", cancelled.Stage)
	}

	if _, err := store.RequestCancel(ctx, job.ID); !errors.Is(err, queue.ErrInvalidStage) {
		t.Fatalf("cancel of terminal job: expected ErrInvalidStage, got %v", err)
	}
}

func TestDueRetriesClaimsOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Due Job")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)
	if _, err := store.RecordFailure(ctx, job.ID, queue.StageScripting, "flaky", true, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	future := time.Now().Add(time.Minute)
	claimed, err := store.DueRetries(ctx, future, 0)
	if err != nil {
		t.Fatalf("DueRetries failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != job.ID {
		t.Fatalf("claimed = %#v, want the one due job", claimed)
	}
	if claimed[0].NextRetryAt != nil {
		t.Fatal("claimed job should have next_retry_at cleared")
	}

	again, err := store.DueRetries(ctx, future, 0)
	if err != nil {
		t.Fatalf("second DueRetries failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second sweep claimed %d jobs, want 0", len(again))
	}
}

func TestDueRetriesHonorsGrace(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Graced Job")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageScripting)
	if _, err := store.RecordFailure(ctx, job.ID, queue.StageScripting, "flaky", true, 3, time.Second); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	claimed, err := store.DueRetries(ctx, time.Now().Add(2*time.Second), time.Hour)
	if err != nil {
		t.Fatalf("DueRetries failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("grace period ignored, claimed %d jobs", len(claimed))
	}
}

func TestStalledJobsFindsUntouchedWork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Stalled Job")

	stalled, err := store.StalledJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("StalledJobs failed: %v", err)
	}
	if len(stalled) != 1 || stalled[0].ID != job.ID {
		t.Fatalf("stalled = %#v, want the queued job", stalled)
	}

	// The claim refreshed updated_at, so an immediate re-sweep with the same
	// cutoff finds nothing.
	again, err := store.StalledJobs(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("second StalledJobs failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second sweep found %d jobs, want 0", len(again))
	}
}

func TestListAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewJob(t, store, "First")
	second := testsupport.NewJob(t, store, "Second")
	testsupport.AdvanceTo(t, store, second.ID, queue.StageScripting)

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list returned %d jobs, want 2", len(all))
	}

	queued, err := store.List(ctx, queue.StageQueued)
	if err != nil {
		t.Fatalf("filtered List failed: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != first.ID {
		t.Fatalf("queued list = %#v", queued)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[queue.StageQueued] != 1 || stats[queue.StageScripting] != 1 {
		t.Fatalf("stats = %#v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Processing != 1 {
		t.Fatalf("health = %#v", health)
	}
}

func TestStageHelpers(t *testing.T) {
	if next, ok := queue.NextStage(queue.StageThumbnailing); !ok || next != queue.StagePublishing {
		t.Fatalf("NextStage(thumbnailing) = %s, %v", next, ok)
	}
	if _, ok := queue.NextStage(queue.StageCompleted); ok {
		t.Fatal("completed must have no successor")
	}
	if queue.Ordinal(queue.StageQueued) != 0 || queue.Ordinal(queue.StageFailed) != -1 {
		t.Fatal("unexpected stage ordinals")
	}
	if stage, ok := queue.ParseStage(" Voice_Synthesis "); !ok || stage != queue.StageVoiceSynthesis {
		t.Fatalf("ParseStage = %s, %v", stage, ok)
	}
	if _, ok := queue.ParseStage("ripping"); ok {
		t.Fatal("unknown stage must not parse")
	}
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	job := &queue.Job{ID: 42}
	key := job.IdempotencyKey(queue.StageVoiceSynthesis)
	if key != "job-42-voice_synthesis" {
		t.Fatalf("key = %q", key)
	}
	if key != job.IdempotencyKey(queue.StageVoiceSynthesis) {
		t.Fatal("key must be stable across calls")
	}
}
