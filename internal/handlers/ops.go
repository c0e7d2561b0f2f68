package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stockpulse/stock-monitor/internal/blocking"
	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/proxy"
)

// RunnerStatus returns a point-in-time view of the scheduling loop
// @Summary Get runner status
// @Description Returns the scheduling loop state: worker capacity, in-flight tasks and completion counters
// @Tags operations
// @Accept json
// @Produce json
// @Success 200 {object} runner.Status
// @Failure 503 {object} map[string]string "Runner not configured"
// @Router /internal/runner/status [get]
func RunnerStatus(c *gin.Context) {
	if deps.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runner not configured"})
		return
	}
	c.JSON(http.StatusOK, deps.Runner.Snapshot())
}

// ListProxies returns the pool's per-proxy accounting
// @Summary List proxies
// @Description Returns the proxy pool with per-proxy availability, quarantine windows and success/failure counters
// @Tags operations
// @Accept json
// @Produce json
// @Success 200 {object} proxy.Stats
// @Router /internal/proxies [get]
func ListProxies(c *gin.Context) {
	if deps.Pool == nil {
		c.JSON(http.StatusOK, proxy.Stats{Proxies: []proxy.Stat{}})
		return
	}
	stats := deps.Pool.Stats()
	if stats.Proxies == nil {
		stats.Proxies = []proxy.Stat{}
	}
	c.JSON(http.StatusOK, stats)
}

// ListBlocksResponse represents the active quarantine listing
type ListBlocksResponse struct {
	Blocks []blocking.ActiveBlock `json:"blocks"`
	Total  int                    `json:"total"`
}

// ListBlocks returns every unexpired host/proxy quarantine
// @Summary List active blocks
// @Description Returns every unexpired host or host+proxy quarantine the blocking detector is tracking
// @Tags operations
// @Accept json
// @Produce json
// @Success 200 {object} ListBlocksResponse
// @Router /internal/blocks [get]
func ListBlocks(c *gin.Context) {
	blocks := []blocking.ActiveBlock{}
	if deps.Detector != nil {
		if active := deps.Detector.ActiveBlocks(); active != nil {
			blocks = active
		}
	}
	c.JSON(http.StatusOK, ListBlocksResponse{Blocks: blocks, Total: len(blocks)})
}

// SnapshotHistoryRequest represents query parameters for snapshot history
type SnapshotHistoryRequest struct {
	Limit int `form:"limit" binding:"min=0,max=500"`
}

// SnapshotHistoryResponse represents the price history for one product
type SnapshotHistoryResponse struct {
	ProductKey string                   `json:"product_key"`
	Snapshots  []database.PriceSnapshot `json:"snapshots"`
	Total      int                      `json:"total"`
}

// GetSnapshots returns the recorded price history for one canonical
// product key, newest first. Keys may contain slashes, so the route uses
// a wildcard and the leading separator is stripped here.
// @Summary Get price snapshot history
// @Description Returns recorded price snapshots for one canonical product key, newest first. Keys may contain slashes, so the key is matched as a wildcard path.
// @Tags operations
// @Accept json
// @Produce json
// @Param key path string true "Canonical product key"
// @Param limit query int false "Number of snapshots to return" default(100) minimum(0) maximum(500)
// @Success 200 {object} SnapshotHistoryResponse
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 404 {object} map[string]string "No snapshots for product key"
// @Router /internal/snapshots/{key} [get]
func GetSnapshots(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product key is required"})
		return
	}

	var req SnapshotHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit == 0 {
		req.Limit = 100
	}

	snapshots, err := database.ListSnapshots(c.Request.Context(), key, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshots"})
		return
	}
	if len(snapshots) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshots for product key"})
		return
	}
	c.JSON(http.StatusOK, SnapshotHistoryResponse{ProductKey: key, Snapshots: snapshots, Total: len(snapshots)})
}
