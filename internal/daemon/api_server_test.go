package daemon_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"dramapipe/internal/api"
	"dramapipe/internal/daemon"
	"dramapipe/internal/queue"
	"dramapipe/internal/testsupport"
	"dramapipe/internal/workflow"
)

const testToken = "hunter2"

func startAPIDaemon(t *testing.T) (*daemon.Daemon, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = testToken
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	dispatcher.Register(testsupport.NewScriptedExecutor(queue.StageScripting))

	d, err := daemon.New(cfg, store, nil, daemon.Components{
		Intake:     workflow.NewIntake(store, fake, nil),
		Dispatcher: dispatcher,
		Sweeper:    workflow.NewSweeper(cfg, store, fake, nil),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, store
}

func TestAPIJobLifecycle(t *testing.T) {
	d, store := startAPIDaemon(t)
	client := api.NewClient(d.APIAddr(), testToken)
	ctx := context.Background()

	created, err := client.CreateJob(ctx, api.CreateJobRequest{
		Title: "Episode One",
		Input: []byte(`{"genre":"thriller"}`),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if created.Stage != string(queue.StageScripting) {
		t.Fatalf("stage = %s, want scripting", created.Stage)
	}

	fetched, err := client.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fetched.Title != "Episode One" {
		t.Fatalf("title = %q", fetched.Title)
	}

	listed, err := client.ListJobs(ctx, string(queue.StageScripting))
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("listed = %+v", listed)
	}

	cancelled, err := client.CancelJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if !cancelled.CancelRequested {
		t.Fatal("cancel flag not set")
	}

	// In-flight jobs cannot be removed.
	if err := client.RemoveJob(ctx, created.ID); err == nil {
		t.Fatal("expected remove of active job to fail")
	}

	done := testsupport.NewJob(t, store, "Finished")
	testsupport.AdvanceTo(t, store, done.ID, queue.StageCompleted)
	if err := client.RemoveJob(ctx, done.ID); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
}

func TestAPIRetryAndReopen(t *testing.T) {
	d, store := startAPIDaemon(t)
	client := api.NewClient(d.APIAddr(), testToken)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "Parked")
	testsupport.AdvanceTo(t, store, job.ID, queue.StageThumbnailing)
	if _, err := store.RecordFailure(ctx, job.ID, queue.StageThumbnailing, "boom", false, 3, 0); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	retried, err := client.RetryJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Stage != string(queue.StageThumbnailing) {
		t.Fatalf("stage = %s, want thumbnailing", retried.Stage)
	}

	if _, err := store.RecordFailure(ctx, job.ID, queue.StageThumbnailing, "boom again", false, 3, 0); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	reopened, err := client.ReopenJob(ctx, job.ID, string(queue.StageScripting))
	if err != nil {
		t.Fatalf("ReopenJob: %v", err)
	}
	if reopened.Stage != string(queue.StageScripting) {
		t.Fatalf("stage = %s, want scripting", reopened.Stage)
	}
	if reopened.ScriptFile != "" {
		t.Fatal("script artifact should be cleared by a scripting reopen")
	}

	if _, err := client.ReopenJob(ctx, job.ID, "bogus"); err == nil {
		t.Fatal("expected reopen to an unknown stage to fail")
	}
}

func TestAPIClearCompletedAndStatus(t *testing.T) {
	d, store := startAPIDaemon(t)
	client := api.NewClient(d.APIAddr(), testToken)
	ctx := context.Background()

	for _, title := range []string{"A", "B"} {
		job := testsupport.NewJob(t, store, title)
		testsupport.AdvanceTo(t, store, job.ID, queue.StageCompleted)
	}
	testsupport.NewJob(t, store, "Pending")

	removed, err := client.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("status reports daemon not running")
	}
	if status.QueueStats[string(queue.StageQueued)] != 1 {
		t.Fatalf("queued count = %d, want 1", status.QueueStats[string(queue.StageQueued)])
	}

	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !health.Healthy {
		t.Fatalf("health = %+v", health)
	}
}

func TestAPIRejectsBadToken(t *testing.T) {
	d, _ := startAPIDaemon(t)
	ctx := context.Background()

	for _, token := range []string{"", "wrong"} {
		client := api.NewClient(d.APIAddr(), token)
		_, err := client.ListJobs(ctx)
		if err == nil {
			t.Fatalf("token %q: expected unauthorized error", token)
		}
		if !strings.Contains(err.Error(), "unauthorized") {
			t.Fatalf("token %q: error = %v", token, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+d.APIAddr()+"/api/jobs", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
