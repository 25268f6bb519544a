package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-logr/logr"

	"docflow/src/core/failure"
	"docflow/src/log"
)

var (
	// ErrJobNotFound is returned when a job id does not exist in the
	// tenant's partition.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotCancellable is returned when cancellation is requested for a
	// job that has already been claimed or finished.
	ErrNotCancellable = errors.New("job is not cancellable")

	// ErrNotOwner is returned when a terminal write is attempted by a
	// worker that no longer owns the job.
	ErrNotOwner = errors.New("job is not owned by this worker")

	// ErrTerminal is returned for mutations against a job already in a
	// terminal state.
	ErrTerminal = errors.New("job is in a terminal state")
)

// LivenessThreshold bounds how old a heartbeat may be for status lookups
// to report the job as alive.
const LivenessThreshold = 120 * time.Second

// QueueTopic receives a lightweight nudge message per created job so idle
// workers can wake before their next poll tick.
const QueueTopic = "jobs"

// QueueMessage is the nudge payload published on QueueTopic.
type QueueMessage struct {
	TenantID string `json:"tenant_id"`
	JobID    int64  `json:"job_id"`
}

// CreateJobRequest carries the caller-supplied fields for a new job.
type CreateJobRequest struct {
	OwnerID        string          `json:"owner_id"`
	JobType        JobType         `json:"job_type"`
	DocumentRef    string          `json:"document_ref"`
	PipelineConfig json.RawMessage `json:"pipeline_config"`
	InputData      json.RawMessage `json:"input_data"`
	Priority       int             `json:"priority"`
	MaxRetries     *int            `json:"max_retries,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// StatusReport is the aggregate returned by Status lookups.
type StatusReport struct {
	Job       *Job       `json:"job"`
	Logs      []JobLog   `json:"logs"`
	Heartbeat *Heartbeat `json:"heartbeat,omitempty"`
	IsAlive   bool       `json:"is_alive"`
}

// Service owns every job state transition. All mutations go through it so
// that the mandatory audit log entry and the lifecycle event publication
// can never be skipped.
type Service struct {
	registry  *Registry
	publisher message.Publisher
	logger    logr.Logger
	now       func() time.Time
}

func NewService(registry *Registry, publisher message.Publisher) *Service {
	return &Service{
		registry:  registry,
		publisher: publisher,
		logger:    log.WithName("jobs"),
		now:       time.Now,
	}
}

// Registry exposes the tenant registry for collaborators that iterate
// partitions directly (the claim dispatcher and the monitor).
func (s *Service) Registry() *Registry {
	return s.registry
}

// Create validates the request and persists a new pending job, then
// publishes the created event and a worker nudge.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateJobRequest) (*Job, error) {
	if !ValidType(req.JobType) {
		return nil, failure.Newf(failure.CategoryValidation, "unknown job type %q", req.JobType)
	}
	if req.Priority < MinPriority || req.Priority > MaxPriority {
		return nil, failure.Newf(failure.CategoryValidation, "priority %d outside [%d, %d]", req.Priority, MinPriority, MaxPriority)
	}

	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}

	maxRetries := DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, failure.Newf(failure.CategoryValidation, "max_retries must not be negative")
		}
		maxRetries = *req.MaxRetries
	}

	stages, err := StagesFor(req.JobType, req.PipelineConfig)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &Job{
		OwnerID:        req.OwnerID,
		JobType:        req.JobType,
		Status:         JobStatusPending,
		Priority:       req.Priority,
		DocumentRef:    req.DocumentRef,
		PipelineConfig: req.PipelineConfig,
		InputData:      req.InputData,
		TotalSteps:     len(stages),
		MaxRetries:     maxRetries,
		Metadata:       req.Metadata,
		RunAt:          now,
	}
	if err := repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.appendLog(ctx, repo, job.ID, LogLevelInfo, "job created", map[string]interface{}{
		"job_type": job.JobType,
		"priority": job.Priority,
	})
	publishEvent(s.publisher, tenantID, job.ID, EventJobCreated)
	s.nudgeWorkers(tenantID, job.ID)

	return job, nil
}

// Get returns a single job record.
func (s *Service) Get(ctx context.Context, tenantID string, id int64) (*Job, error) {
	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}
	job, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns a page of the tenant's jobs, newest first.
func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) ([]Job, error) {
	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}
	return repo.List(ctx, limit, offset)
}

// Status returns the job together with its recent log entries, heartbeat
// row and the derived is_alive flag.
func (s *Service) Status(ctx context.Context, tenantID string, id int64, logLimit int) (*StatusReport, error) {
	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}
	job, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	logs, err := repo.RecentLogs(ctx, id, logLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load job logs: %w", err)
	}

	report := &StatusReport{Job: job, Logs: logs}
	hb, err := repo.GetHeartbeat(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load heartbeat: %w", err)
	}
	if hb != nil {
		report.Heartbeat = hb
		report.IsAlive = s.now().Sub(hb.LastPing) < LivenessThreshold
	}

	return report, nil
}

// Cancel cancels a job that has not been claimed yet. Once a worker owns
// the job the request is rejected; an in-flight job can only be abandoned
// through heartbeat staleness.
func (s *Service) Cancel(ctx context.Context, tenantID string, id int64) error {
	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return err
	}
	if err := repo.CancelPending(ctx, id); err != nil {
		return err
	}

	s.appendLog(ctx, repo, id, LogLevelInfo, "job cancelled by caller", nil)
	publishEvent(s.publisher, tenantID, id, EventJobCancelled)
	return nil
}

// Progress records a checkpoint for an in-flight job.
func (s *Service) Progress(ctx context.Context, tenantID string, id int64, percentage int, currentStep string) error {
	if percentage < 0 || percentage > 100 {
		return failure.Newf(failure.CategoryValidation, "progress percentage %d outside [0, 100]", percentage)
	}
	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return err
	}
	return repo.UpdateProgress(ctx, id, percentage, currentStep)
}

// Heartbeat refreshes the liveness row for an in-flight job. Writing the
// same payload repeatedly only moves last_ping.
func (s *Service) Heartbeat(ctx context.Context, tenantID string, id int64, workerID string, status []byte) error {
	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return err
	}
	return repo.UpsertHeartbeat(ctx, &Heartbeat{
		JobID:    id,
		WorkerID: workerID,
		LastPing: s.now().UTC(),
		Status:   status,
	})
}

// Complete finishes a job on behalf of its owning worker and clears the
// heartbeat row.
func (s *Service) Complete(ctx context.Context, tenantID string, id int64, workerID string, output []byte, resultRef string) error {
	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return err
	}
	if err := repo.MarkCompleted(ctx, id, workerID, output, resultRef); err != nil {
		return err
	}
	if err := repo.DeleteHeartbeat(ctx, id); err != nil {
		s.logger.Error(err, "Failed to delete heartbeat after completion", "job_id", id)
	}

	s.appendLog(ctx, repo, id, LogLevelInfo, "job completed", map[string]interface{}{
		"result_reference": resultRef,
	})
	publishEvent(s.publisher, tenantID, id, EventJobCompleted)
	return nil
}

// FailureOutcome reports how Fail resolved a failure.
type FailureOutcome struct {
	Requeued bool
	Policy   failure.Policy
	RunAt    time.Time
}

// Fail resolves a classified failure for a job: either re-queue it with
// backoff (transient failure within the retry budget) or mark it failed
// terminally. The caller-visible message is always the sanitized one; the
// raw error lands in the job log only.
func (s *Service) Fail(ctx context.Context, tenantID string, job *Job, p failure.Policy, rawErr error) (*FailureOutcome, error) {
	repo, err := s.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}

	maxAttempts := job.MaxRetries
	if p.MaxRetries < maxAttempts {
		maxAttempts = p.MaxRetries
	}

	details, _ := json.Marshal(map[string]interface{}{
		"category":    p.Category,
		"severity":    p.Severity,
		"retryable":   p.Retryable,
		"raw_error":   rawErr.Error(),
		"retry_count": job.RetryCount,
	})
	s.appendLog(ctx, repo, job.ID, LogLevelError, "job attempt failed", map[string]interface{}{
		"category":  p.Category,
		"raw_error": rawErr.Error(),
	})

	if failure.ShouldRetry(p, job.RetryCount, maxAttempts) {
		delay := failure.NextDelay(job.RetryCount+1, p.BaseDelay, failure.BackoffFactor, failure.MaxBackoff)
		runAt := s.now().UTC().Add(delay)

		metadata, merr := mergeMetadata(job.Metadata, failure.RecoveryHints(p.Category))
		if merr != nil {
			s.logger.Error(merr, "Failed to merge recovery hints", "job_id", job.ID)
			metadata = job.Metadata
		}

		if err := repo.Requeue(ctx, job.ID, runAt, metadata); err != nil {
			return nil, fmt.Errorf("failed to requeue job: %w", err)
		}
		if err := repo.DeleteHeartbeat(ctx, job.ID); err != nil {
			s.logger.Error(err, "Failed to delete heartbeat after requeue", "job_id", job.ID)
		}

		s.appendLog(ctx, repo, job.ID, LogLevelWarning, "job re-queued for retry", map[string]interface{}{
			"category": p.Category,
			"run_at":   runAt,
			"attempt":  job.RetryCount + 1,
		})
		publishEvent(s.publisher, tenantID, job.ID, EventJobRequeued)
		s.nudgeWorkers(tenantID, job.ID)
		return &FailureOutcome{Requeued: true, Policy: p, RunAt: runAt}, nil
	}

	if err := repo.MarkFailed(ctx, job.ID, failure.UserMessage(p), details); err != nil {
		return nil, fmt.Errorf("failed to mark job failed: %w", err)
	}
	if err := repo.DeleteHeartbeat(ctx, job.ID); err != nil {
		s.logger.Error(err, "Failed to delete heartbeat after failure", "job_id", job.ID)
	}

	s.appendLog(ctx, repo, job.ID, LogLevelError, "job failed terminally", map[string]interface{}{
		"category":    p.Category,
		"retry_count": job.RetryCount,
		"max_retries": job.MaxRetries,
	})
	publishEvent(s.publisher, tenantID, job.ID, EventJobFailed)
	return &FailureOutcome{Requeued: false, Policy: p}, nil
}

// appendLog writes the mandatory audit entry for a transition. Audit
// failures are logged but never fail the transition itself.
func (s *Service) appendLog(ctx context.Context, repo JobRepository, jobID int64, level, msg string, details map[string]interface{}) {
	var payload json.RawMessage
	if details != nil {
		payload, _ = json.Marshal(details)
	}
	entry := &JobLog{
		JobID:     jobID,
		Level:     level,
		Message:   msg,
		Details:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := repo.AppendLog(ctx, entry); err != nil {
		s.logger.Error(err, "Failed to append job log", "job_id", jobID, "message", msg)
	}
}

func (s *Service) nudgeWorkers(tenantID string, jobID int64) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(QueueMessage{TenantID: tenantID, JobID: jobID})
	if err != nil {
		s.logger.Error(err, "Failed to marshal queue message", "job_id", jobID)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.publisher.Publish(QueueTopic, msg); err != nil {
		s.logger.Error(err, "Failed to publish queue nudge", "job_id", jobID)
	}
}

// mergeMetadata applies recovery hints on top of the stored metadata
// payload, preserving an embedded webhook config and any caller keys.
func mergeMetadata(stored json.RawMessage, hints map[string]interface{}) (json.RawMessage, error) {
	if len(hints) == 0 {
		return stored, nil
	}
	merged := map[string]interface{}{}
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &merged); err != nil {
			return nil, err
		}
	}
	for k, v := range hints {
		merged[k] = v
	}
	return json.Marshal(merged)
}
