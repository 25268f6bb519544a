package jobs

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"docflow/src/log"
)

// EventsTopic carries job lifecycle events to the webhook notifier.
const EventsTopic = "job-events"

// Lifecycle event names, one per status transition.
const (
	EventJobCreated   = "job.created"
	EventJobClaimed   = "job.processing"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobRequeued  = "job.requeued"
	EventJobCancelled = "job.cancelled"
)

// LifecycleEvent is the message published on EventsTopic. The notifier
// re-reads the job from the store, so the message carries identity only.
type LifecycleEvent struct {
	TenantID   string    `json:"tenant_id"`
	JobID      int64     `json:"job_id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
}

// publishEvent emits a lifecycle event. Event delivery never affects the
// transition that triggered it: failures are logged and dropped.
func publishEvent(publisher message.Publisher, tenantID string, jobID int64, event string) {
	if publisher == nil {
		return
	}

	evt := LifecycleEvent{
		TenantID:   tenantID,
		JobID:      jobID,
		Event:      event,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error(err, "Failed to marshal lifecycle event", "job_id", jobID, "event", event)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := publisher.Publish(EventsTopic, msg); err != nil {
		log.Error(err, "Failed to publish lifecycle event", "job_id", jobID, "event", event)
	}
}
