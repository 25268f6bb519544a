// Package jobctrl is the Postgres job store. Each tenant gets its own
// schema (jobs, job_heartbeats, job_logs); a repository instance is bound
// to exactly one tenant at construction time, so partition names are
// fixed before any query runs.
package jobctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docflow/src/core/jobs"
	"docflow/src/tenant"
)

type TenantJobRepository struct {
	db        *gorm.DB
	snowflake *snowflake.Node

	// Schema-qualified table names, built once from the validated
	// tenant identifier.
	jobsTable       string
	heartbeatsTable string
	logsTable       string
	schema          string
}

// NewTenantJobRepository binds a repository to one tenant partition.
func NewTenantJobRepository(db *gorm.DB, tenantID string) (*TenantJobRepository, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return nil, fmt.Errorf("cannot bind repository: %w", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	schema := "tenant_" + tenantID
	return &TenantJobRepository{
		db:              db,
		snowflake:       node,
		schema:          schema,
		jobsTable:       schema + ".jobs",
		heartbeatsTable: schema + ".job_heartbeats",
		logsTable:       schema + ".job_logs",
	}, nil
}

// EnsureSchema creates the tenant schema and its tables if missing.
// Called once when a tenant is provisioned or at startup.
func (r *TenantJobRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Exec("CREATE SCHEMA IF NOT EXISTS " + r.schema).Error; err != nil {
		return fmt.Errorf("failed to create schema %s: %v", r.schema, err)
	}
	if err := r.db.WithContext(ctx).Table(r.jobsTable).AutoMigrate(&jobs.Job{}); err != nil {
		return fmt.Errorf("failed to migrate jobs table: %v", err)
	}
	if err := r.db.WithContext(ctx).Table(r.heartbeatsTable).AutoMigrate(&jobs.Heartbeat{}); err != nil {
		return fmt.Errorf("failed to migrate heartbeats table: %v", err)
	}
	if err := r.db.WithContext(ctx).Table(r.logsTable).AutoMigrate(&jobs.JobLog{}); err != nil {
		return fmt.Errorf("failed to migrate logs table: %v", err)
	}
	return nil
}

func (r *TenantJobRepository) Create(ctx context.Context, job *jobs.Job) error {
	if job.ID == 0 {
		job.ID = r.snowflake.Generate().Int64()
	}
	now := time.Now().UTC()
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	result := r.db.WithContext(ctx).Table(r.jobsTable).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to create job: %v", result.Error)
	}
	return nil
}

func (r *TenantJobRepository) Get(ctx context.Context, id int64) (*jobs.Job, error) {
	var job jobs.Job
	result := r.db.WithContext(ctx).Table(r.jobsTable).Where("id = ?", id).First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %v", result.Error)
	}
	return &job, nil
}

func (r *TenantJobRepository) List(ctx context.Context, limit, offset int) ([]jobs.Job, error) {
	var out []jobs.Job
	result := r.db.WithContext(ctx).Table(r.jobsTable).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list jobs: %v", result.Error)
	}
	return out, nil
}

// Claim atomically locks and takes the next eligible pending job.
// FOR UPDATE SKIP LOCKED makes concurrent claimers skip rows another
// transaction already holds, so no job can be handed to two workers.
func (r *TenantJobRepository) Claim(ctx context.Context, workerID string, typeFilter []jobs.JobType) (*jobs.Job, error) {
	filterClause := ""
	args := []interface{}{string(jobs.JobStatusPending)}
	if len(typeFilter) > 0 {
		filterClause = "AND job_type IN ?"
		args = append(args, typeFilter)
	}
	args = append(args, string(jobs.JobStatusProcessing), workerID)

	query := fmt.Sprintf(`
WITH next AS (
    SELECT id FROM %s
    WHERE status = ? AND run_at <= now() %s
    ORDER BY priority DESC, created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE %s j
SET status = ?, worker_id = ?, started_at = now(), updated_at = now()
FROM next
WHERE j.id = next.id
RETURNING j.*`, r.jobsTable, filterClause, r.jobsTable)

	var job jobs.Job
	result := r.db.WithContext(ctx).Raw(query, args...).Scan(&job)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim job: %v", result.Error)
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

// UpdateProgress persists a checkpoint. The guard keeps progress
// monotonic within one processing lifetime; stale lower writes are
// silently dropped.
func (r *TenantJobRepository) UpdateProgress(ctx context.Context, id int64, percentage int, currentStep string) error {
	result := r.db.WithContext(ctx).Table(r.jobsTable).
		Where("id = ? AND status = ? AND progress_percentage <= ?", id, jobs.JobStatusProcessing, percentage).
		Updates(map[string]interface{}{
			"progress_percentage": percentage,
			"current_step":        currentStep,
			"updated_at":          time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update progress: %v", result.Error)
	}
	return nil
}

func (r *TenantJobRepository) MarkCompleted(ctx context.Context, id int64, workerID string, output []byte, resultRef string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Table(r.jobsTable).
		Where("id = ? AND status = ? AND worker_id = ?", id, jobs.JobStatusProcessing, workerID).
		Updates(map[string]interface{}{
			"status":              jobs.JobStatusCompleted,
			"output_data":         output,
			"result_reference":    resultRef,
			"progress_percentage": 100,
			"completed_at":        now,
			"updated_at":          now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job completed: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainGuardMiss(ctx, id, jobs.ErrNotOwner)
	}
	return nil
}

func (r *TenantJobRepository) MarkFailed(ctx context.Context, id int64, message string, details []byte) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Table(r.jobsTable).
		Where("id = ? AND status NOT IN ?", id, []string{
			string(jobs.JobStatusCompleted),
			string(jobs.JobStatusFailed),
			string(jobs.JobStatusCancelled),
		}).
		Updates(map[string]interface{}{
			"status":        jobs.JobStatusFailed,
			"error_message": message,
			"error_details": details,
			"worker_id":     "",
			"completed_at":  now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job failed: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainGuardMiss(ctx, id, jobs.ErrTerminal)
	}
	return nil
}

// Requeue moves a claimed job back to pending for another attempt. The
// status guard means only processing jobs can re-enter the queue; a job
// that reached a terminal state in the meantime stays there.
func (r *TenantJobRepository) Requeue(ctx context.Context, id int64, runAt time.Time, metadata []byte) error {
	updates := map[string]interface{}{
		"status":              jobs.JobStatusPending,
		"retry_count":         gorm.Expr("retry_count + 1"),
		"run_at":              runAt,
		"worker_id":           "",
		"started_at":          nil,
		"progress_percentage": 0,
		"current_step":        "",
		"updated_at":          time.Now().UTC(),
	}
	if metadata != nil {
		updates["metadata"] = metadata
	}

	result := r.db.WithContext(ctx).Table(r.jobsTable).
		Where("id = ? AND status = ?", id, jobs.JobStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to requeue job: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainGuardMiss(ctx, id, jobs.ErrTerminal)
	}
	return nil
}

// CancelPending is the guarded cancellation: the status predicate makes
// "set cancelled where status = pending" atomic, so a concurrent claim
// and a cancel can never both win.
func (r *TenantJobRepository) CancelPending(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Table(r.jobsTable).
		Where("id = ? AND status = ?", id, jobs.JobStatusPending).
		Updates(map[string]interface{}{
			"status":       jobs.JobStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to cancel job: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainGuardMiss(ctx, id, jobs.ErrNotCancellable)
	}
	return nil
}

func (r *TenantJobRepository) UpsertHeartbeat(ctx context.Context, hb *jobs.Heartbeat) error {
	result := r.db.WithContext(ctx).Table(r.heartbeatsTable).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"worker_id", "last_ping", "status"}),
		}).
		Create(hb)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert heartbeat: %v", result.Error)
	}
	return nil
}

func (r *TenantJobRepository) GetHeartbeat(ctx context.Context, jobID int64) (*jobs.Heartbeat, error) {
	var hb jobs.Heartbeat
	result := r.db.WithContext(ctx).Table(r.heartbeatsTable).Where("job_id = ?", jobID).First(&hb)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get heartbeat: %v", result.Error)
	}
	return &hb, nil
}

func (r *TenantJobRepository) DeleteHeartbeat(ctx context.Context, jobID int64) error {
	result := r.db.WithContext(ctx).Table(r.heartbeatsTable).Where("job_id = ?", jobID).Delete(&jobs.Heartbeat{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete heartbeat: %v", result.Error)
	}
	return nil
}

// StaleProcessing also returns processing jobs with no heartbeat row at
// all: a claim that died before its first heartbeat write is as dead as
// one that stopped pinging.
func (r *TenantJobRepository) StaleProcessing(ctx context.Context, cutoff time.Time) ([]jobs.Job, error) {
	var out []jobs.Job
	query := fmt.Sprintf(`
SELECT j.* FROM %s j
LEFT JOIN %s h ON h.job_id = j.id
WHERE j.status = ? AND (h.job_id IS NULL OR h.last_ping < ?)`, r.jobsTable, r.heartbeatsTable)

	result := r.db.WithContext(ctx).Raw(query, jobs.JobStatusProcessing, cutoff).Scan(&out)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to scan for stale jobs: %v", result.Error)
	}
	return out, nil
}

func (r *TenantJobRepository) ProcessingSince(ctx context.Context, cutoff time.Time) ([]jobs.Job, error) {
	var out []jobs.Job
	result := r.db.WithContext(ctx).Table(r.jobsTable).
		Where("status = ? AND started_at < ?", jobs.JobStatusProcessing, cutoff).
		Find(&out)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to scan for timed out jobs: %v", result.Error)
	}
	return out, nil
}

func (r *TenantJobRepository) AppendLog(ctx context.Context, entry *jobs.JobLog) error {
	if entry.ID == 0 {
		entry.ID = r.snowflake.Generate().Int64()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	result := r.db.WithContext(ctx).Table(r.logsTable).Create(entry)
	if result.Error != nil {
		return fmt.Errorf("failed to append job log: %v", result.Error)
	}
	return nil
}

func (r *TenantJobRepository) RecentLogs(ctx context.Context, jobID int64, limit int) ([]jobs.JobLog, error) {
	var out []jobs.JobLog
	result := r.db.WithContext(ctx).Table(r.logsTable).
		Where("job_id = ?", jobID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load job logs: %v", result.Error)
	}
	// Oldest first, matching the order callers display them in.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// explainGuardMiss distinguishes "row missing" from "guard predicate
// failed" after an update touched zero rows.
func (r *TenantJobRepository) explainGuardMiss(ctx context.Context, id int64, guardErr error) error {
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return jobs.ErrJobNotFound
	}
	return guardErr
}

var _ jobs.JobRepository = (*TenantJobRepository)(nil)
