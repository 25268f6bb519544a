package jobs

import (
	"encoding/json"

	"docflow/src/core/failure"
)

// Stage is one step of a job's processing plan. Extract and transform
// jobs run a single stage; pipeline jobs declare theirs in
// pipeline_config.
type Stage struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

type pipelinePlan struct {
	Stages []Stage `json:"stages"`
}

// StagesFor returns the processing plan for a job. Invalid plans are
// tagged validation failures, so they are rejected at creation and never
// retried by a worker.
func StagesFor(jobType JobType, pipelineConfig json.RawMessage) ([]Stage, error) {
	switch jobType {
	case JobTypeExtract, JobTypeTransform:
		return []Stage{{Name: string(jobType), Config: pipelineConfig}}, nil
	case JobTypePipeline:
		if len(pipelineConfig) == 0 {
			return nil, failure.Newf(failure.CategoryValidation, "pipeline job requires a pipeline_config with stages")
		}
		var plan pipelinePlan
		if err := json.Unmarshal(pipelineConfig, &plan); err != nil {
			return nil, failure.Newf(failure.CategoryValidation, "malformed pipeline_config: %v", err)
		}
		if len(plan.Stages) == 0 {
			return nil, failure.Newf(failure.CategoryValidation, "pipeline_config declares no stages")
		}
		for i, stage := range plan.Stages {
			if stage.Name == "" {
				return nil, failure.Newf(failure.CategoryValidation, "pipeline_config stage %d has no name", i)
			}
		}
		return plan.Stages, nil
	default:
		return nil, failure.Newf(failure.CategoryValidation, "unknown job type %q", jobType)
	}
}
