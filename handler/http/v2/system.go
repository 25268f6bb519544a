package v2

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status  string `json:"status"`
	Tenants int    `json:"tenants"`
}

// CheckHealth godoc
// @Summary Service health
// @Tags system
// @Produce json
// @Success 200 {object} healthResponse
// @Router /health [get]
func (h *Handler) CheckHealth(c *gin.Context) {
	sendJSON(c, http.StatusOK, healthResponse{
		Status:  "ok",
		Tenants: len(h.jobService.Registry().Tenants()),
	})
}
