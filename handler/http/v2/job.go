package v2

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docflow/src/core/jobs"
)

type createJobRequest struct {
	OwnerID        string          `json:"ownerId" binding:"required"`
	JobType        string          `json:"jobType" binding:"required"`
	DocumentRef    string          `json:"documentRef"`
	PipelineConfig json.RawMessage `json:"pipelineConfig"`
	InputData      json.RawMessage `json:"inputData"`
	Priority       int             `json:"priority"`
	MaxRetries     *int            `json:"maxRetries"`
	Metadata       json.RawMessage `json:"metadata"`
}

// CreateJob godoc
// @Summary Submit a new job
// @Tags jobs
// @Accept json
// @Produce json
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param body body createJobRequest true "Job parameters"
// @Success 201 {object} jobs.Job
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs [post]
func (h *Handler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	job, err := h.jobService.Create(c.Request.Context(), tenantID(c), jobs.CreateJobRequest{
		OwnerID:        req.OwnerID,
		JobType:        jobs.JobType(req.JobType),
		DocumentRef:    req.DocumentRef,
		PipelineConfig: req.PipelineConfig,
		InputData:      req.InputData,
		Priority:       req.Priority,
		MaxRetries:     req.MaxRetries,
		Metadata:       req.Metadata,
	})
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusCreated, job)
}

// ListJobs godoc
// @Summary List jobs for a tenant
// @Tags jobs
// @Produce json
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} jobs.Job
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs [get]
func (h *Handler) ListJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		sendError(c, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and 500"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		sendError(c, http.StatusBadRequest, fmt.Errorf("offset must be non-negative"))
		return
	}

	list, err := h.jobService.List(c.Request.Context(), tenantID(c), limit, offset)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, list)
}

// GetJobStatus godoc
// @Summary Get a job's status report
// @Tags jobs
// @Produce json
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param id path int true "Job ID"
// @Success 200 {object} jobs.StatusReport
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{id} [get]
func (h *Handler) GetJobStatus(c *gin.Context) {
	id, err := jobID(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	report, err := h.jobService.Status(c.Request.Context(), tenantID(c), id, 50)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, report)
}

// CancelJob godoc
// @Summary Cancel a pending job
// @Tags jobs
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param id path int true "Job ID"
// @Success 204 "No Content"
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{id} [delete]
func (h *Handler) CancelJob(c *gin.Context) {
	id, err := jobID(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.jobService.Cancel(c.Request.Context(), tenantID(c), id); err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func jobID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", c.Param("id"))
	}
	return id, nil
}
