package jobs

import (
	"context"

	"github.com/go-logr/logr"

	"docflow/src/log"
)

// ClaimedJob pairs a claimed job with the tenant partition it came from.
type ClaimedJob struct {
	TenantID string
	Job      *Job
}

// Dispatcher selects and locks the next eligible pending job across all
// tenant partitions. Partitions are visited in stable order; a failing
// partition is logged and skipped rather than failing the whole attempt.
//
// The scan is linear in the number of tenants per poll. That matches the
// partition-per-tenant layout; a global cross-tenant priority index would
// change the storage model and is deliberately not attempted here.
type Dispatcher struct {
	registry *Registry
	service  *Service
	logger   logr.Logger
}

func NewDispatcher(service *Service) *Dispatcher {
	return &Dispatcher{
		registry: service.Registry(),
		service:  service,
		logger:   log.WithName("dispatcher"),
	}
}

// Claim attempts to claim one job for workerID, optionally restricted to
// the given job types. Returns nil when no partition has an eligible job;
// callers back off and poll again rather than treating this as an error.
func (d *Dispatcher) Claim(ctx context.Context, workerID string, typeFilter []JobType) (*ClaimedJob, error) {
	for _, tenantID := range d.registry.Tenants() {
		repo, err := d.registry.Get(tenantID)
		if err != nil {
			d.logger.Error(err, "Skipping unbound partition", "tenant", tenantID)
			continue
		}

		job, err := repo.Claim(ctx, workerID, typeFilter)
		if err != nil {
			d.logger.Error(err, "Claim failed for partition, skipping", "tenant", tenantID)
			continue
		}
		if job == nil {
			continue
		}

		// Seed the heartbeat row so the reaper sees a fresh claim as
		// alive before the worker's first tick.
		if err := d.service.Heartbeat(ctx, tenantID, job.ID, workerID, nil); err != nil {
			d.logger.Error(err, "Failed to seed heartbeat", "tenant", tenantID, "job_id", job.ID)
		}
		d.service.appendLog(ctx, repo, job.ID, LogLevelInfo, "job claimed", map[string]interface{}{
			"worker_id": workerID,
		})
		publishEvent(d.service.publisher, tenantID, job.ID, EventJobClaimed)

		return &ClaimedJob{TenantID: tenantID, Job: job}, nil
	}

	return nil, nil
}
