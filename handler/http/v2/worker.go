package v2

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"docflow/src/core/failure"
	"docflow/src/core/jobs"
)

type claimRequest struct {
	WorkerID string   `json:"workerId" binding:"required"`
	JobTypes []string `json:"jobTypes"`
}

type claimResponse struct {
	TenantID string    `json:"tenantId"`
	Job      *jobs.Job `json:"job"`
}

// ClaimNextJob godoc
// @Summary Claim the next eligible job
// @Tags worker
// @Accept json
// @Produce json
// @Param body body claimRequest true "Claim parameters"
// @Success 200 {object} claimResponse
// @Success 204 "No eligible job"
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /worker/claim [post]
func (h *Handler) ClaimNextJob(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	var filter []jobs.JobType
	for _, t := range req.JobTypes {
		jt := jobs.JobType(t)
		if !jobs.ValidType(jt) {
			sendError(c, http.StatusBadRequest, fmt.Errorf("unknown job type %q", t))
			return
		}
		filter = append(filter, jt)
	}

	claimed, err := h.dispatcher.Claim(c.Request.Context(), req.WorkerID, filter)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	if claimed == nil {
		// Empty queue is the normal case, not an error.
		c.Status(http.StatusNoContent)
		return
	}

	sendJSON(c, http.StatusOK, claimResponse{TenantID: claimed.TenantID, Job: claimed.Job})
}

type progressRequest struct {
	Percentage  int    `json:"percentage"`
	CurrentStep string `json:"currentStep"`
}

// ReportProgress godoc
// @Summary Report job progress
// @Tags worker
// @Accept json
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param id path int true "Job ID"
// @Param body body progressRequest true "Progress checkpoint"
// @Success 204 "No Content"
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /worker/jobs/{id}/progress [post]
func (h *Handler) ReportProgress(c *gin.Context) {
	id, err := jobID(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.jobService.Progress(c.Request.Context(), tenantID(c), id, req.Percentage, req.CurrentStep); err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type heartbeatRequest struct {
	WorkerID string          `json:"workerId" binding:"required"`
	Status   json.RawMessage `json:"status"`
}

// ReportHeartbeat godoc
// @Summary Report worker liveness for a job
// @Tags worker
// @Accept json
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param id path int true "Job ID"
// @Param body body heartbeatRequest true "Heartbeat"
// @Success 204 "No Content"
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /worker/jobs/{id}/heartbeat [post]
func (h *Handler) ReportHeartbeat(c *gin.Context) {
	id, err := jobID(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.jobService.Heartbeat(c.Request.Context(), tenantID(c), id, req.WorkerID, req.Status); err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type completeRequest struct {
	WorkerID        string          `json:"workerId" binding:"required"`
	OutputData      json.RawMessage `json:"outputData"`
	ResultReference string          `json:"resultReference"`
}

// CompleteJob godoc
// @Summary Mark a claimed job completed
// @Tags worker
// @Accept json
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param id path int true "Job ID"
// @Param body body completeRequest true "Completion payload"
// @Success 204 "No Content"
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /worker/jobs/{id}/complete [post]
func (h *Handler) CompleteJob(c *gin.Context) {
	id, err := jobID(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	err = h.jobService.Complete(c.Request.Context(), tenantID(c), id, req.WorkerID,
		req.OutputData, req.ResultReference)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type failRequest struct {
	WorkerID     string `json:"workerId" binding:"required"`
	ErrorMessage string `json:"errorMessage" binding:"required"`
	Category     string `json:"category"`
}

// FailJob godoc
// @Summary Report a job failure
// @Tags worker
// @Accept json
// @Produce json
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param id path int true "Job ID"
// @Param body body failRequest true "Failure report"
// @Success 200 {object} jobs.FailureOutcome
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /worker/jobs/{id}/fail [post]
func (h *Handler) FailJob(c *gin.Context) {
	id, err := jobID(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	job, err := h.jobService.Get(c.Request.Context(), tenantID(c), id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	if job.WorkerID != req.WorkerID {
		sendError(c, http.StatusConflict, jobs.ErrNotOwner)
		return
	}

	rawErr := errors.New(req.ErrorMessage)
	var policy failure.Policy
	if req.Category != "" {
		policy = failure.PolicyFor(failure.Category(req.Category))
	} else {
		policy = failure.Classify(rawErr)
	}

	outcome, err := h.jobService.Fail(c.Request.Context(), tenantID(c), job, policy, rawErr)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, outcome)
}
