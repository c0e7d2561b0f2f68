package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stockpulse/stock-monitor/internal/database"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Runner   string `json:"runner,omitempty"`
}

// Healthz reports process liveness and store connectivity.
// GET /healthz
func Healthz(c *gin.Context) {
	response := HealthResponse{Status: "ok"}

	if database.Handle() == nil {
		response.Database = "not configured"
		c.JSON(http.StatusOK, response)
		return
	}
	if err := database.Status(c.Request.Context()); err != nil {
		response.Status = "degraded"
		response.Database = "disconnected"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.Database = "connected"
	c.JSON(http.StatusOK, response)
}

// Readyz reports readiness to do work: the store answers and the runner
// loop is up.
// GET /readyz
func Readyz(c *gin.Context) {
	response := HealthResponse{Status: "ready"}

	if err := database.Status(c.Request.Context()); err != nil {
		response.Status = "not ready"
		response.Database = "disconnected"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.Database = "connected"

	if deps.Runner == nil || !deps.Runner.Snapshot().Running {
		response.Status = "not ready"
		response.Runner = "stopped"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.Runner = "running"
	c.JSON(http.StatusOK, response)
}
