package jobs

import (
	"encoding/json"
	"time"
)

// JobType identifies the processing operation a job performs.
type JobType string

const (
	JobTypeExtract   JobType = "extract"
	JobTypeTransform JobType = "transform"
	JobTypePipeline  JobType = "pipeline"
)

// ValidType reports whether t is a known job type.
func ValidType(t JobType) bool {
	switch t {
	case JobTypeExtract, JobTypeTransform, JobTypePipeline:
		return true
	}
	return false
}

// JobStatus defines the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether s is a terminal state. Terminal jobs are
// immutable apart from audit log appends.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

const (
	// MinPriority and MaxPriority bound the accepted priority range.
	// Higher priority is served first.
	MinPriority = 0
	MaxPriority = 10

	// DefaultMaxRetries applies when a job is created without an explicit
	// retry budget.
	DefaultMaxRetries = 3
)

// Job represents one unit of document-processing work. The tenant
// partition is implicit in which repository the row lives in and is not
// a column.
type Job struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	OwnerID     string    `gorm:"not null" json:"owner_id"`
	JobType     JobType   `gorm:"not null;index" json:"job_type"`
	Status      JobStatus `gorm:"not null;index" json:"status"`
	Priority    int       `gorm:"not null;default:0" json:"priority"`
	DocumentRef string    `json:"document_ref"`

	PipelineConfig json.RawMessage `gorm:"type:jsonb" json:"pipeline_config,omitempty"`
	InputData      json.RawMessage `gorm:"type:jsonb" json:"input_data,omitempty"`

	ProgressPercentage int    `gorm:"not null;default:0" json:"progress_percentage"`
	CurrentStep        string `json:"current_step"`
	TotalSteps         int    `json:"total_steps"`

	OutputData      json.RawMessage `gorm:"type:jsonb" json:"output_data,omitempty"`
	ResultReference string          `json:"result_reference,omitempty"`

	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorDetails json.RawMessage `gorm:"type:jsonb" json:"error_details,omitempty"`

	RetryCount int `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries int `gorm:"not null;default:3" json:"max_retries"`

	// WorkerID is the owning worker while Status is processing.
	WorkerID string `json:"worker_id,omitempty"`

	Metadata json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`

	// RunAt is the earliest claimable instant; retries push it forward.
	RunAt       time.Time  `gorm:"not null;index" json:"run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MetadataMap decodes the free-form metadata payload. A nil or empty
// payload decodes to an empty map.
func (j *Job) MetadataMap() (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if len(j.Metadata) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(j.Metadata, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat is the liveness row for an in-flight job. One row per active
// job, created on claim, refreshed by the owning worker, removed when the
// job reaches a terminal state.
type Heartbeat struct {
	JobID    int64           `gorm:"primaryKey" json:"job_id"`
	WorkerID string          `gorm:"not null" json:"worker_id"`
	LastPing time.Time       `gorm:"not null" json:"last_ping"`
	Status   json.RawMessage `gorm:"type:jsonb" json:"status,omitempty"`
}

// Log levels for JobLog entries.
const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// JobLog is one append-only audit trail entry. Entries are never mutated
// or deleted, including for terminal jobs.
type JobLog struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	JobID     int64           `gorm:"not null;index" json:"job_id"`
	Level     string          `gorm:"not null" json:"level"`
	Message   string          `gorm:"not null" json:"message"`
	Details   json.RawMessage `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
