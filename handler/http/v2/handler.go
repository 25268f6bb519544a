package v2

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docflow/src/core/failure"
	"docflow/src/core/jobs"
	"docflow/src/tenant"
)

type Handler struct {
	jobService *jobs.Service
	dispatcher *jobs.Dispatcher

	// callbackSecret signs inbound pipeline callbacks. Empty disables
	// the callback route.
	callbackSecret string
}

func NewHandler(jobService *jobs.Service, callbackSecret string) *Handler {
	return &Handler{
		jobService:     jobService,
		dispatcher:     jobs.NewDispatcher(jobService),
		callbackSecret: callbackSecret,
	}
}

// RegisterRoutes registers all v2 API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")

	// Tenant-scoped job routes
	scoped := api.Group("/jobs", TenantRequired())
	scoped.POST("", h.CreateJob)
	scoped.GET("", h.ListJobs)
	scoped.GET("/:id", h.GetJobStatus)
	scoped.DELETE("/:id", h.CancelJob)

	// Worker protocol routes
	workers := api.Group("/worker")
	workers.POST("/claim", h.ClaimNextJob)
	scopedWorkers := workers.Group("/jobs/:id", TenantRequired())
	scopedWorkers.POST("/progress", h.ReportProgress)
	scopedWorkers.POST("/heartbeat", h.ReportHeartbeat)
	scopedWorkers.POST("/complete", h.CompleteJob)
	scopedWorkers.POST("/fail", h.FailJob)

	// Inbound pipeline callback
	if h.callbackSecret != "" {
		api.POST("/callbacks/pipeline", h.PipelineCallback)
	}

	// System routes
	api.GET("/health", h.CheckHealth)
}

// TenantHeader carries the tenant identifier on scoped routes.
const TenantHeader = "X-Tenant-ID"

const tenantContextKey = "tenantID"

// TenantRequired rejects requests without a valid tenant header before
// any job route runs.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TenantHeader)
		if err := tenant.Validate(id); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
				Code:    "INVALID_TENANT",
				Message: err.Error(),
			})
			return
		}
		c.Set(tenantContextKey, id)
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(tenantContextKey)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, status int, err error) {
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		code = "NOT_FOUND"
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrNotCancellable):
		code = "NOT_CANCELLABLE"
		status = http.StatusConflict
	case errors.Is(err, jobs.ErrNotOwner):
		code = "NOT_OWNER"
		status = http.StatusConflict
	case errors.Is(err, jobs.ErrTerminal):
		code = "ALREADY_TERMINAL"
		status = http.StatusConflict
	case failure.CategoryOf(err) == failure.CategoryValidation:
		code = "VALIDATION_FAILED"
		status = http.StatusBadRequest
	case status == http.StatusBadRequest:
		code = "BAD_REQUEST"
	case status == http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	default:
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
