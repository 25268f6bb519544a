// Package worker runs the claim/execute loop. Each Worker instance
// processes one job at a time; throughput scales by running more
// instances, coordinated only through the job store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"docflow/src/core/failure"
	"docflow/src/core/jobs"
	"docflow/src/log"
)

// Engine is the opaque document-processing pipeline collaborator. It is
// invoked with input bytes and a config blob and returns structured
// output or a classifiable error.
type Engine interface {
	Run(ctx context.Context, input []byte, config json.RawMessage) ([]byte, error)
}

// BlobStore is the blob storage collaborator, keyed by opaque
// "bucket/object" references.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	SignURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// DocumentStatus values mirror the external document registry's state
// field.
type DocumentStatus string

const (
	DocumentUploading   DocumentStatus = "uploading"
	DocumentProcessing  DocumentStatus = "processing"
	DocumentNeedsReview DocumentStatus = "needs_review"
	DocumentComplete    DocumentStatus = "complete"
	DocumentFailed      DocumentStatus = "failed"
)

// DocumentRegistry mirrors job outcomes onto the external document
// record. Mirror failures are logged, never fatal to the job.
type DocumentRegistry interface {
	SetStatus(ctx context.Context, tenantID, documentRef string, status DocumentStatus) error
}

// Config tunes one worker instance.
type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// MaxJobDuration is the wall-clock budget for one attempt, checked
	// cooperatively at stage boundaries. The monitor enforces the same
	// budget from outside for workers that never reach a boundary.
	MaxJobDuration time.Duration
	TypeFilter     []jobs.JobType
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MaxJobDuration <= 0 {
		c.MaxJobDuration = 30 * time.Minute
	}
}

// Worker polls the claim dispatcher and executes claimed jobs through the
// pipeline engine.
type Worker struct {
	id         string
	dispatcher *jobs.Dispatcher
	service    *jobs.Service
	engine     Engine
	blobs      BlobStore
	docs       DocumentRegistry
	cfg        Config
	logger     logr.Logger
	nudge      chan struct{}
	now        func() time.Time
}

func New(service *jobs.Service, engine Engine, blobs BlobStore, docs DocumentRegistry, cfg Config) *Worker {
	cfg.applyDefaults()
	id := "worker-" + uuid.NewString()
	return &Worker{
		id:         id,
		dispatcher: jobs.NewDispatcher(service),
		service:    service,
		engine:     engine,
		blobs:      blobs,
		docs:       docs,
		cfg:        cfg,
		logger:     log.WithName("worker").WithValues("worker_id", id),
		nudge:      make(chan struct{}, 1),
		now:        time.Now,
	}
}

// ID returns the worker's unique identity, stamped on claimed jobs.
func (w *Worker) ID() string {
	return w.id
}

// Nudge wakes the poll loop early, typically from a queue consumer that
// saw a new job announcement. Non-blocking.
func (w *Worker) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Run polls for work until ctx is cancelled. "No job available" is a
// normal outcome that backs off for PollInterval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started", "poll_interval", w.cfg.PollInterval.String())
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Worker stopping")
			return nil
		}

		claimed, err := w.dispatcher.Claim(ctx, w.id, w.cfg.TypeFilter)
		if err != nil {
			w.logger.Error(err, "Claim attempt failed")
		}
		if claimed == nil {
			select {
			case <-ctx.Done():
			case <-w.nudge:
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		w.process(ctx, claimed.TenantID, claimed.Job)
	}
}

// process runs one claimed job to a terminal state or a re-queue. All
// failures pass through the classifier before any state change.
func (w *Worker) process(ctx context.Context, tenantID string, job *jobs.Job) {
	logger := w.logger.WithValues("tenant", tenantID, "job_id", job.ID, "job_type", job.JobType)
	logger.Info("Processing job", "attempt", job.RetryCount+1)

	stopHeartbeat := w.startHeartbeat(ctx, tenantID, job.ID)
	defer stopHeartbeat()

	w.mirrorDocument(ctx, tenantID, job, DocumentProcessing)

	output, err := w.execute(ctx, tenantID, job)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-job: leave ownership as-is. Heartbeats stop
			// and the reaper re-queues the job for another worker.
			logger.Info("Abandoning job on shutdown")
			return
		}
		w.fail(ctx, tenantID, job, err)
		return
	}

	resultRef, err := w.storeResult(ctx, tenantID, job, output)
	if err != nil {
		w.fail(ctx, tenantID, job, err)
		return
	}

	if err := w.service.Complete(ctx, tenantID, job.ID, w.id, output, resultRef); err != nil {
		// Ownership was lost while we were busy (reaped or force-failed).
		// The result is dropped; a retry will regenerate it.
		logger.Error(err, "Could not record completion, dropping result")
		return
	}
	w.mirrorDocument(ctx, tenantID, job, DocumentComplete)
	logger.Info("Job completed", "result_reference", resultRef)
}

// execute resolves the input and runs each pipeline stage, reporting
// progress and checking the wall-clock budget at stage boundaries only.
// There is no preemption of an in-flight stage.
func (w *Worker) execute(ctx context.Context, tenantID string, job *jobs.Job) ([]byte, error) {
	input, err := w.resolveInput(ctx, job)
	if err != nil {
		return nil, err
	}

	stages, err := jobs.StagesFor(job.JobType, job.PipelineConfig)
	if err != nil {
		return nil, err
	}

	started := w.now()
	data := input
	for i, stage := range stages {
		if w.now().Sub(started) > w.cfg.MaxJobDuration {
			return nil, fmt.Errorf("%w: budget %s spent before stage %q",
				errBudgetExceeded, w.cfg.MaxJobDuration, stage.Name)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pct := i * 100 / len(stages)
		if err := w.service.Progress(ctx, tenantID, job.ID, pct, stage.Name); err != nil {
			w.logger.Error(err, "Failed to record progress", "job_id", job.ID, "stage", stage.Name)
		}

		data, err = w.engine.Run(ctx, data, stage.Config)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, err)
		}
	}

	return data, nil
}

func (w *Worker) resolveInput(ctx context.Context, job *jobs.Job) ([]byte, error) {
	if len(job.InputData) > 0 {
		return job.InputData, nil
	}
	if job.DocumentRef == "" {
		return nil, failure.Newf(failure.CategoryValidation, "job has neither input_data nor document_ref")
	}
	data, err := w.blobs.Get(ctx, job.DocumentRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", job.DocumentRef, err)
	}
	return data, nil
}

func (w *Worker) storeResult(ctx context.Context, tenantID string, job *jobs.Job, output []byte) (string, error) {
	if len(output) == 0 {
		return "", nil
	}
	key := fmt.Sprintf("results/%s/%d.json", tenantID, job.ID)
	if err := w.blobs.Put(ctx, key, output); err != nil {
		return "", fmt.Errorf("failed to store result: %w", err)
	}
	return key, nil
}

// errBudgetExceeded marks a wall-clock budget overrun, failed with the
// non-retryable deadline policy rather than the transient timeout one.
var errBudgetExceeded = errors.New("job exceeded its time budget")

func (w *Worker) fail(ctx context.Context, tenantID string, job *jobs.Job, rawErr error) {
	policy := failure.Classify(rawErr)
	if errors.Is(rawErr, errBudgetExceeded) {
		policy = failure.DeadlinePolicy()
	}
	outcome, err := w.service.Fail(ctx, tenantID, job, policy, rawErr)
	if err != nil {
		w.logger.Error(err, "Failed to record job failure", "job_id", job.ID)
		return
	}
	if outcome.Requeued {
		w.logger.Info("Job re-queued", "job_id", job.ID, "category", policy.Category, "run_at", outcome.RunAt)
		return
	}
	w.mirrorDocument(ctx, tenantID, job, DocumentFailed)
	w.logger.Info("Job failed terminally", "job_id", job.ID, "category", policy.Category)
}

// startHeartbeat refreshes the job's liveness row every HeartbeatInterval
// until the returned stop function is called. Heartbeat writes are
// idempotent; only last_ping moves.
func (w *Worker) startHeartbeat(ctx context.Context, tenantID string, jobID int64) func() {
	stop := make(chan struct{})
	payload, _ := json.Marshal(map[string]string{"state": "processing"})

	go func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.service.Heartbeat(ctx, tenantID, jobID, w.id, payload); err != nil {
					w.logger.Error(err, "Heartbeat write failed", "job_id", jobID)
				}
			}
		}
	}()

	var once bool
	return func() {
		if !once {
			once = true
			close(stop)
		}
	}
}

func (w *Worker) mirrorDocument(ctx context.Context, tenantID string, job *jobs.Job, status DocumentStatus) {
	if w.docs == nil || job.DocumentRef == "" {
		return
	}
	if err := w.docs.SetStatus(ctx, tenantID, job.DocumentRef, status); err != nil {
		w.logger.Error(err, "Failed to mirror document status",
			"job_id", job.ID, "document_ref", job.DocumentRef, "status", status)
	}
}
