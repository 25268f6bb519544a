package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"docflow/src/tenant"
)

// JobRepository is one tenant partition of the job store. Implementations
// are bound to a single tenant at construction time; no method takes a
// tenant identifier.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id int64) (*Job, error)
	List(ctx context.Context, limit, offset int) ([]Job, error)

	// Claim atomically selects the highest-priority, oldest eligible
	// pending job (optionally restricted to typeFilter), transitions it
	// to processing and stamps workerID, with row-level lock semantics
	// that skip rows already locked by a concurrent claimer. Returns
	// (nil, nil) when no job is eligible.
	Claim(ctx context.Context, workerID string, typeFilter []JobType) (*Job, error)

	// UpdateProgress persists a progress checkpoint. Progress only moves
	// forward; implementations ignore writes below the stored value.
	UpdateProgress(ctx context.Context, id int64, percentage int, currentStep string) error

	// MarkCompleted finishes a job. Guarded: only applies while the job
	// is processing and owned by workerID; returns ErrNotOwner otherwise.
	MarkCompleted(ctx context.Context, id int64, workerID string, output []byte, resultRef string) error

	// MarkFailed records a terminal failure with a sanitized message and
	// structured details.
	MarkFailed(ctx context.Context, id int64, message string, details []byte) error

	// Requeue returns a failed job to pending for another attempt,
	// incrementing retry_count, clearing worker ownership and deferring
	// eligibility until runAt. Guarded: only applies while the job is
	// processing; returns ErrTerminal once it left that state. Metadata,
	// when non-nil, replaces the stored metadata payload.
	Requeue(ctx context.Context, id int64, runAt time.Time, metadata []byte) error

	// CancelPending cancels a job only if it is still pending. Returns
	// ErrNotCancellable when the job has already been claimed or is
	// terminal.
	CancelPending(ctx context.Context, id int64) error

	UpsertHeartbeat(ctx context.Context, hb *Heartbeat) error
	GetHeartbeat(ctx context.Context, jobID int64) (*Heartbeat, error)
	DeleteHeartbeat(ctx context.Context, jobID int64) error

	// StaleProcessing returns processing jobs whose heartbeat is older
	// than the cutoff, for the reaper to fail and possibly re-queue.
	StaleProcessing(ctx context.Context, cutoff time.Time) ([]Job, error)

	// ProcessingSince returns processing jobs that started before the
	// deadline cutoff, for the timeout sweeper.
	ProcessingSince(ctx context.Context, cutoff time.Time) ([]Job, error)

	AppendLog(ctx context.Context, entry *JobLog) error
	RecentLogs(ctx context.Context, jobID int64, limit int) ([]JobLog, error)
}

// Registry maps tenant identifiers to their bound JobRepository. Bindings
// are established once at startup (or on tenant provisioning), so claim
// iteration never builds partition names at request time.
type Registry struct {
	mu    sync.RWMutex
	repos map[string]JobRepository
}

func NewRegistry() *Registry {
	return &Registry{repos: make(map[string]JobRepository)}
}

// Bind registers the repository serving tenantID. The identifier is
// validated here so every downstream user can trust it.
func (r *Registry) Bind(tenantID string, repo JobRepository) error {
	if err := tenant.Validate(tenantID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[tenantID] = repo
	return nil
}

// Get returns the repository bound to tenantID.
func (r *Registry) Get(tenantID string) (JobRepository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[tenantID]
	if !ok {
		return nil, tenant.ErrInvalidTenant
	}
	return repo, nil
}

// Tenants returns all bound tenant identifiers in stable order.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.repos))
	for id := range r.repos {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
