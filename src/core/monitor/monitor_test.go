package monitor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"docflow/src/core/jobs"
	"docflow/src/core/monitor"
	"docflow/src/storage/memory"
)

func newTestMonitor(t *testing.T, cfg monitor.Config) (*monitor.Monitor, *jobs.Service, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	registry := jobs.NewRegistry()
	if err := registry.Bind("acme", repo); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	service := jobs.NewService(registry, nil)
	return monitor.New(service, cfg), service, repo
}

func createAndClaim(t *testing.T, service *jobs.Service, repo *memory.Repository, maxRetries int) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	_, err := service.Create(ctx, "acme", jobs.CreateJobRequest{
		OwnerID:    "user-1",
		JobType:    jobs.JobTypeExtract,
		InputData:  json.RawMessage(`{}`),
		MaxRetries: &maxRetries,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	job, err := repo.Claim(ctx, "worker-dead", nil)
	if err != nil || job == nil {
		t.Fatalf("Claim() = %v, %v", job, err)
	}
	return job
}

func TestSweepReapsStaleJobForRetry(t *testing.T) {
	m, service, repo := newTestMonitor(t, monitor.Config{
		StaleThreshold: 180 * time.Second,
		MaxJobDuration: time.Hour,
	})
	ctx := context.Background()

	job := createAndClaim(t, service, repo, 3)

	// Heartbeat written at claim time, then the worker goes silent.
	repo.UpsertHeartbeat(ctx, &jobs.Heartbeat{
		JobID:    job.ID,
		WorkerID: "worker-dead",
		LastPing: time.Now(),
	})

	// 185 seconds later the sweep threshold is crossed.
	m.SetClock(func() time.Time { return time.Now().Add(185 * time.Second) })
	m.SweepOnce(ctx)

	got, err := service.Get(ctx, "acme", job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != jobs.JobStatusPending {
		t.Fatalf("status = %s, want pending after reap", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.WorkerID != "" {
		t.Errorf("worker_id = %q, want cleared", got.WorkerID)
	}
	if hb, _ := repo.GetHeartbeat(ctx, job.ID); hb != nil {
		t.Error("stale heartbeat row survived the reap")
	}
}

func TestSweepStaleWithExhaustedBudgetFailsTerminally(t *testing.T) {
	m, service, repo := newTestMonitor(t, monitor.Config{
		StaleThreshold: 180 * time.Second,
		MaxJobDuration: time.Hour,
	})
	ctx := context.Background()

	job := createAndClaim(t, service, repo, 0)
	repo.UpsertHeartbeat(ctx, &jobs.Heartbeat{JobID: job.ID, WorkerID: "worker-dead", LastPing: time.Now()})

	m.SetClock(func() time.Time { return time.Now().Add(200 * time.Second) })
	m.SweepOnce(ctx)

	got, _ := service.Get(ctx, "acme", job.ID)
	if got.Status != jobs.JobStatusFailed {
		t.Fatalf("status = %s, want terminal failed with no retry budget", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", got.RetryCount)
	}
}

func TestSweepTimesOutLongRunningJobDespiteHeartbeat(t *testing.T) {
	m, service, repo := newTestMonitor(t, monitor.Config{
		StaleThreshold: 180 * time.Second,
		MaxJobDuration: 30 * time.Minute,
	})
	ctx := context.Background()

	job := createAndClaim(t, service, repo, 3)

	// The worker is alive and heartbeating, but the job has run too long.
	future := time.Now().Add(31 * time.Minute)
	m.SetClock(func() time.Time { return future })
	repo.UpsertHeartbeat(ctx, &jobs.Heartbeat{
		JobID:    job.ID,
		WorkerID: "worker-dead",
		LastPing: future,
	})

	m.SweepOnce(ctx)

	got, _ := service.Get(ctx, "acme", job.ID)
	if got.Status != jobs.JobStatusFailed {
		t.Fatalf("status = %s, want failed on timeout", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0 (timeout is non-retryable)", got.RetryCount)
	}
}

func TestSweepLeavesHealthyJobsAlone(t *testing.T) {
	m, service, repo := newTestMonitor(t, monitor.Config{
		StaleThreshold: 180 * time.Second,
		MaxJobDuration: time.Hour,
	})
	ctx := context.Background()

	job := createAndClaim(t, service, repo, 3)
	repo.UpsertHeartbeat(ctx, &jobs.Heartbeat{JobID: job.ID, WorkerID: "worker-dead", LastPing: time.Now()})

	m.SweepOnce(ctx)

	got, _ := service.Get(ctx, "acme", job.ID)
	if got.Status != jobs.JobStatusProcessing {
		t.Errorf("status = %s, want processing untouched", got.Status)
	}
}

func TestSweepIgnoresJobCompletedAfterScan(t *testing.T) {
	m, service, repo := newTestMonitor(t, monitor.Config{
		StaleThreshold: 180 * time.Second,
		MaxJobDuration: time.Hour,
	})
	ctx := context.Background()

	job := createAndClaim(t, service, repo, 3)
	repo.UpsertHeartbeat(ctx, &jobs.Heartbeat{JobID: job.ID, WorkerID: "worker-dead", LastPing: time.Now()})

	// The worker finishes just before the sweep crosses the threshold.
	if err := service.Complete(ctx, "acme", job.ID, "worker-dead", json.RawMessage(`{"ok":true}`), ""); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	m.SetClock(func() time.Time { return time.Now().Add(200 * time.Second) })
	m.SweepOnce(ctx)

	got, _ := service.Get(ctx, "acme", job.ID)
	if got.Status != jobs.JobStatusCompleted {
		t.Fatalf("status = %s, want completed untouched", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", got.RetryCount)
	}
}
