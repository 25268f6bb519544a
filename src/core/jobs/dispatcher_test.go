package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"docflow/src/core/failure"
	"docflow/src/core/jobs"
	"docflow/src/storage/memory"
)

// brokenRepo fails every operation, standing in for a partition whose
// storage is unreachable.
type brokenRepo struct{}

var errPartitionDown = errors.New("partition unreachable")

func (brokenRepo) Create(context.Context, *jobs.Job) error          { return errPartitionDown }
func (brokenRepo) Get(context.Context, int64) (*jobs.Job, error)    { return nil, errPartitionDown }
func (brokenRepo) List(context.Context, int, int) ([]jobs.Job, error) {
	return nil, errPartitionDown
}
func (brokenRepo) Claim(context.Context, string, []jobs.JobType) (*jobs.Job, error) {
	return nil, errPartitionDown
}
func (brokenRepo) UpdateProgress(context.Context, int64, int, string) error {
	return errPartitionDown
}
func (brokenRepo) MarkCompleted(context.Context, int64, string, []byte, string) error {
	return errPartitionDown
}
func (brokenRepo) MarkFailed(context.Context, int64, string, []byte) error {
	return errPartitionDown
}
func (brokenRepo) Requeue(context.Context, int64, time.Time, []byte) error {
	return errPartitionDown
}
func (brokenRepo) CancelPending(context.Context, int64) error { return errPartitionDown }
func (brokenRepo) UpsertHeartbeat(context.Context, *jobs.Heartbeat) error {
	return errPartitionDown
}
func (brokenRepo) GetHeartbeat(context.Context, int64) (*jobs.Heartbeat, error) {
	return nil, errPartitionDown
}
func (brokenRepo) DeleteHeartbeat(context.Context, int64) error { return errPartitionDown }
func (brokenRepo) StaleProcessing(context.Context, time.Time) ([]jobs.Job, error) {
	return nil, errPartitionDown
}
func (brokenRepo) ProcessingSince(context.Context, time.Time) ([]jobs.Job, error) {
	return nil, errPartitionDown
}
func (brokenRepo) AppendLog(context.Context, *jobs.JobLog) error { return errPartitionDown }
func (brokenRepo) RecentLogs(context.Context, int64, int) ([]jobs.JobLog, error) {
	return nil, errPartitionDown
}

func TestClaimSkipsFailingPartitions(t *testing.T) {
	registry := jobs.NewRegistry()
	// "aaa" sorts first so the broken partition is visited before the
	// healthy one.
	if err := registry.Bind("aaa_broken", brokenRepo{}); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	healthy := memory.NewRepository()
	if err := registry.Bind("zzz_healthy", healthy); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}

	service := jobs.NewService(registry, nil)
	ctx := context.Background()
	if _, err := service.Create(ctx, "zzz_healthy", jobs.CreateJobRequest{
		OwnerID: "u", JobType: jobs.JobTypeExtract, InputData: json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	claimed, err := jobs.NewDispatcher(service).Claim(ctx, "w-1", nil)
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if claimed == nil {
		t.Fatal("Claim() found nothing despite a healthy partition with work")
	}
	if claimed.TenantID != "zzz_healthy" {
		t.Errorf("claimed from %s, want zzz_healthy", claimed.TenantID)
	}
}

func TestClaimHonorsTypeFilter(t *testing.T) {
	registry := jobs.NewRegistry()
	repo := memory.NewRepository()
	if err := registry.Bind("acme", repo); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	service := jobs.NewService(registry, nil)
	ctx := context.Background()

	if _, err := service.Create(ctx, "acme", jobs.CreateJobRequest{
		OwnerID: "u", JobType: jobs.JobTypeExtract, InputData: json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	dispatcher := jobs.NewDispatcher(service)

	claimed, err := dispatcher.Claim(ctx, "w-1", []jobs.JobType{jobs.JobTypeTransform})
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if claimed != nil {
		t.Fatalf("type-filtered claim returned %v, want none available", claimed.Job.JobType)
	}

	claimed, err = dispatcher.Claim(ctx, "w-1", []jobs.JobType{jobs.JobTypeExtract, jobs.JobTypePipeline})
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if claimed == nil {
		t.Fatal("matching type filter found no job")
	}
}

func TestClaimSeedsHeartbeat(t *testing.T) {
	registry := jobs.NewRegistry()
	repo := memory.NewRepository()
	if err := registry.Bind("acme", repo); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	service := jobs.NewService(registry, nil)
	ctx := context.Background()

	if _, err := service.Create(ctx, "acme", jobs.CreateJobRequest{
		OwnerID: "u", JobType: jobs.JobTypeExtract, InputData: json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	claimed, err := jobs.NewDispatcher(service).Claim(ctx, "w-1", nil)
	if err != nil || claimed == nil {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}

	hb, err := repo.GetHeartbeat(ctx, claimed.Job.ID)
	if err != nil {
		t.Fatalf("GetHeartbeat() error: %v", err)
	}
	if hb == nil || hb.WorkerID != "w-1" {
		t.Errorf("heartbeat = %+v, want seeded for w-1", hb)
	}
}

func TestFailMergesRecoveryHints(t *testing.T) {
	registry := jobs.NewRegistry()
	repo := memory.NewRepository()
	if err := registry.Bind("acme", repo); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	service := jobs.NewService(registry, nil)
	ctx := context.Background()

	metadata := json.RawMessage(`{"case_ref":"A-17"}`)
	job, err := service.Create(ctx, "acme", jobs.CreateJobRequest{
		OwnerID: "u", JobType: jobs.JobTypeExtract, InputData: json.RawMessage(`{}`), Metadata: metadata,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := repo.Claim(ctx, "w-1", nil); err != nil {
		t.Fatalf("Claim() error: %v", err)
	}

	current, _ := repo.Get(ctx, job.ID)
	outcome, err := service.Fail(ctx, "acme", current,
		failure.PolicyFor(failure.CategoryResource), errors.New("pipeline ran out of memory"))
	if err != nil {
		t.Fatalf("Fail() error: %v", err)
	}
	if !outcome.Requeued {
		t.Fatal("resource failure within budget should requeue")
	}

	got, _ := repo.Get(ctx, job.ID)
	var meta map[string]interface{}
	if err := json.Unmarshal(got.Metadata, &meta); err != nil {
		t.Fatalf("metadata unmarshal error: %v", err)
	}
	if meta["reduced_processing"] != true {
		t.Errorf("metadata = %v, want reduced_processing hint", meta)
	}
	if meta["case_ref"] != "A-17" {
		t.Errorf("metadata = %v, caller key case_ref lost", meta)
	}
}
