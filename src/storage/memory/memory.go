// Package memory provides an in-memory JobRepository for tests and
// single-process development runs. A mutex stands in for the row-level
// locking the Postgres implementation gets from the database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"docflow/src/core/jobs"
)

type Repository struct {
	mu         sync.Mutex
	nextID     int64
	jobs       map[int64]*jobs.Job
	heartbeats map[int64]*jobs.Heartbeat
	logs       map[int64][]jobs.JobLog
	now        func() time.Time
}

func NewRepository() *Repository {
	return &Repository{
		nextID:     1,
		jobs:       make(map[int64]*jobs.Job),
		heartbeats: make(map[int64]*jobs.Heartbeat),
		logs:       make(map[int64][]jobs.JobLog),
		now:        time.Now,
	}
}

// SetClock overrides the repository clock. Test helper.
func (r *Repository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *Repository) Create(_ context.Context, job *jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job.ID = r.nextID
	r.nextID++
	now := r.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *Repository) Get(_ context.Context, id int64) (*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *Repository) List(_ context.Context, limit, offset int) ([]jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]jobs.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		all = append(all, *job)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *Repository) Claim(_ context.Context, workerID string, typeFilter []jobs.JobType) (*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	var candidates []*jobs.Job
	for _, job := range r.jobs {
		if job.Status != jobs.JobStatusPending || job.RunAt.After(now) {
			continue
		}
		if len(typeFilter) > 0 && !containsType(typeFilter, job.JobType) {
			continue
		}
		candidates = append(candidates, job)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	job := candidates[0]
	job.Status = jobs.JobStatusProcessing
	job.WorkerID = workerID
	started := now
	job.StartedAt = &started
	job.UpdatedAt = now

	cp := *job
	return &cp, nil
}

func (r *Repository) UpdateProgress(_ context.Context, id int64, percentage int, currentStep string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if percentage >= job.ProgressPercentage {
		job.ProgressPercentage = percentage
		job.CurrentStep = currentStep
		job.UpdatedAt = r.now().UTC()
	}
	return nil
}

func (r *Repository) MarkCompleted(_ context.Context, id int64, workerID string, output []byte, resultRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if job.Status != jobs.JobStatusProcessing || job.WorkerID != workerID {
		return jobs.ErrNotOwner
	}
	now := r.now().UTC()
	job.Status = jobs.JobStatusCompleted
	job.OutputData = output
	job.ResultReference = resultRef
	job.ProgressPercentage = 100
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (r *Repository) MarkFailed(_ context.Context, id int64, message string, details []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return jobs.ErrTerminal
	}
	now := r.now().UTC()
	job.Status = jobs.JobStatusFailed
	job.ErrorMessage = message
	job.ErrorDetails = details
	job.WorkerID = ""
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (r *Repository) Requeue(_ context.Context, id int64, runAt time.Time, metadata []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	// Only processing jobs re-enter the queue; a job that reached a
	// terminal state in the meantime stays there.
	if job.Status != jobs.JobStatusProcessing {
		return jobs.ErrTerminal
	}
	job.Status = jobs.JobStatusPending
	job.RetryCount++
	job.RunAt = runAt
	job.WorkerID = ""
	job.StartedAt = nil
	job.ProgressPercentage = 0
	job.CurrentStep = ""
	if metadata != nil {
		job.Metadata = metadata
	}
	job.UpdatedAt = r.now().UTC()
	return nil
}

func (r *Repository) CancelPending(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if job.Status != jobs.JobStatusPending {
		return jobs.ErrNotCancellable
	}
	now := r.now().UTC()
	job.Status = jobs.JobStatusCancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (r *Repository) UpsertHeartbeat(_ context.Context, hb *jobs.Heartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *hb
	r.heartbeats[hb.JobID] = &cp
	return nil
}

func (r *Repository) GetHeartbeat(_ context.Context, jobID int64) (*jobs.Heartbeat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hb, ok := r.heartbeats[jobID]
	if !ok {
		return nil, nil
	}
	cp := *hb
	return &cp, nil
}

func (r *Repository) DeleteHeartbeat(_ context.Context, jobID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.heartbeats, jobID)
	return nil
}

func (r *Repository) StaleProcessing(_ context.Context, cutoff time.Time) ([]jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []jobs.Job
	for _, job := range r.jobs {
		if job.Status != jobs.JobStatusProcessing {
			continue
		}
		hb, ok := r.heartbeats[job.ID]
		if !ok || hb.LastPing.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *Repository) ProcessingSince(_ context.Context, cutoff time.Time) ([]jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []jobs.Job
	for _, job := range r.jobs {
		if job.Status != jobs.JobStatusProcessing {
			continue
		}
		if job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *Repository) AppendLog(_ context.Context, entry *jobs.JobLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = r.nextID
	r.nextID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	r.logs[entry.JobID] = append(r.logs[entry.JobID], *entry)
	return nil
}

func (r *Repository) RecentLogs(_ context.Context, jobID int64, limit int) ([]jobs.JobLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.logs[jobID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]jobs.JobLog, len(entries))
	copy(out, entries)
	return out, nil
}

func containsType(filter []jobs.JobType, t jobs.JobType) bool {
	for _, f := range filter {
		if f == t {
			return true
		}
	}
	return false
}

var _ jobs.JobRepository = (*Repository)(nil)
