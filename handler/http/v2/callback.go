package v2

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docflow/src/core/failure"
	"docflow/src/core/webhook"
	"docflow/src/tenant"
)

type pipelineCallback struct {
	TenantID     string          `json:"tenantId"`
	JobID        int64           `json:"jobId"`
	Status       string          `json:"status"`
	ResultData   json.RawMessage `json:"resultData"`
	ErrorMessage string          `json:"errorMessage"`
}

// PipelineCallback godoc
// @Summary Receive a signed completion callback from the processing pipeline
// @Tags callbacks
// @Accept json
// @Produce json
// @Param X-Docflow-Signature header string true "HMAC-SHA256 of the request body"
// @Param body body pipelineCallback true "Terminal outcome"
// @Success 200 {object} jobs.FailureOutcome
// @Success 204 "No Content"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /callbacks/pipeline [post]
func (h *Handler) PipelineCallback(c *gin.Context) {
	// The signature covers the exact bytes on the wire, so the body is
	// verified before any decoding.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("failed to read body: %v", err))
		return
	}
	if !webhook.Verify(h.callbackSecret, body, c.GetHeader(webhook.SignatureHeader)) {
		sendError(c, http.StatusUnauthorized, errors.New("signature verification failed"))
		return
	}

	var cb pipelineCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("failed to decode callback: %v", err))
		return
	}
	if err := tenant.Validate(cb.TenantID); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobService.Get(ctx, cb.TenantID, cb.JobID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	switch cb.Status {
	case "completed":
		err := h.jobService.Complete(ctx, cb.TenantID, job.ID, job.WorkerID, cb.ResultData, "")
		if err != nil {
			sendError(c, http.StatusInternalServerError, err)
			return
		}
		c.Status(http.StatusNoContent)

	case "failed":
		rawErr := errors.New(cb.ErrorMessage)
		outcome, err := h.jobService.Fail(ctx, cb.TenantID, job, failure.Classify(rawErr), rawErr)
		if err != nil {
			sendError(c, http.StatusInternalServerError, err)
			return
		}
		sendJSON(c, http.StatusOK, outcome)

	case "cancelled":
		// Upstream cancellation of an in-flight job is terminal; the
		// work will not be retried.
		policy := failure.Policy{
			Category:  failure.CategoryProcessing,
			Severity:  failure.SeverityMedium,
			Retryable: false,
		}
		outcome, err := h.jobService.Fail(ctx, cb.TenantID, job, policy,
			errors.New("pipeline_cancelled: upstream cancelled the run"))
		if err != nil {
			sendError(c, http.StatusInternalServerError, err)
			return
		}
		sendJSON(c, http.StatusOK, outcome)

	default:
		sendError(c, http.StatusBadRequest, fmt.Errorf("unknown callback status %q", cb.Status))
	}
}
