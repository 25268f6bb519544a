// Package monitor watches in-flight jobs from outside the worker fleet.
// It recovers jobs whose worker died (stale heartbeat) and force-fails
// jobs that outlive their wall-clock budget even while heartbeating.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"docflow/src/core/failure"
	"docflow/src/core/jobs"
	"docflow/src/log"
)

// Config tunes the sweep cadence and thresholds. StaleThreshold is
// deliberately longer than the liveness threshold used by status reads,
// so a job reads as not-alive before the reaper takes it away.
type Config struct {
	SweepInterval  time.Duration
	StaleThreshold time.Duration
	MaxJobDuration time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 180 * time.Second
	}
	if c.MaxJobDuration <= 0 {
		c.MaxJobDuration = 30 * time.Minute
	}
}

// Monitor is the background reaper/sweeper pair over all tenant
// partitions.
type Monitor struct {
	service *jobs.Service
	cfg     Config
	logger  logr.Logger
	now     func() time.Time
}

func New(service *jobs.Service, cfg Config) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		service: service,
		cfg:     cfg,
		logger:  log.WithName("monitor"),
		now:     time.Now,
	}
}

// SetClock overrides the monitor clock. Test helper.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Run sweeps on a fixed cadence until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Monitor started",
		"sweep_interval", m.cfg.SweepInterval.String(),
		"stale_threshold", m.cfg.StaleThreshold.String(),
		"max_job_duration", m.cfg.MaxJobDuration.String())

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			return nil
		case <-ticker.C:
			m.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one reap + timeout pass over every tenant partition.
// Partition errors are logged and skipped, never fatal to the sweep.
func (m *Monitor) SweepOnce(ctx context.Context) {
	registry := m.service.Registry()
	for _, tenantID := range registry.Tenants() {
		repo, err := registry.Get(tenantID)
		if err != nil {
			m.logger.Error(err, "Skipping unbound partition", "tenant", tenantID)
			continue
		}
		m.reapStale(ctx, tenantID, repo)
		m.failTimedOut(ctx, tenantID, repo)
	}
}

// reapStale fails jobs whose heartbeat is older than StaleThreshold. The
// failure is retryable, so within the retry budget the job re-enters
// pending for a different worker.
func (m *Monitor) reapStale(ctx context.Context, tenantID string, repo jobs.JobRepository) {
	cutoff := m.now().Add(-m.cfg.StaleThreshold)
	stale, err := repo.StaleProcessing(ctx, cutoff)
	if err != nil {
		m.logger.Error(err, "Stale scan failed", "tenant", tenantID)
		return
	}

	for i := range stale {
		job := &stale[i]
		policy := failure.Policy{
			Category:   failure.CategorySystem,
			Severity:   failure.SeverityHigh,
			Retryable:  true,
			BaseDelay:  0,
			MaxRetries: job.MaxRetries,
		}
		reason := fmt.Errorf("missing_heartbeat: no heartbeat from worker %q since %s",
			job.WorkerID, cutoff.UTC().Format(time.RFC3339))

		outcome, err := m.service.Fail(ctx, tenantID, job, policy, reason)
		if err != nil {
			m.logger.Error(err, "Failed to reap stale job", "tenant", tenantID, "job_id", job.ID)
			continue
		}
		m.logger.Info("Reaped stale job",
			"tenant", tenantID, "job_id", job.ID, "worker_id", job.WorkerID,
			"requeued", outcome.Requeued)
	}
}

// failTimedOut force-fails jobs that have been processing longer than
// MaxJobDuration. Distinct from staleness: the worker may still be alive
// and heartbeating, the job has simply outlived its budget.
func (m *Monitor) failTimedOut(ctx context.Context, tenantID string, repo jobs.JobRepository) {
	cutoff := m.now().Add(-m.cfg.MaxJobDuration)
	expired, err := repo.ProcessingSince(ctx, cutoff)
	if err != nil {
		m.logger.Error(err, "Timeout scan failed", "tenant", tenantID)
		return
	}

	for i := range expired {
		job := &expired[i]
		reason := fmt.Errorf("timeout: job exceeded maximum duration of %s", m.cfg.MaxJobDuration)

		if _, err := m.service.Fail(ctx, tenantID, job, failure.DeadlinePolicy(), reason); err != nil {
			m.logger.Error(err, "Failed to time out job", "tenant", tenantID, "job_id", job.ID)
			continue
		}
		m.logger.Info("Timed out job", "tenant", tenantID, "job_id", job.ID, "worker_id", job.WorkerID)
	}
}
