package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stockpulse/stock-monitor/internal/database"
)

// CreateGroupRequest represents the body for creating a task group
type CreateGroupRequest struct {
	Name                   string `json:"name" binding:"required"`
	DefaultIntervalSeconds int    `json:"default_interval_seconds" binding:"required,min=1"`
	DefaultZipCode         string `json:"default_zip_code"`
}

// UpdateGroupRequest represents the body for toggling a group
type UpdateGroupRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ListGroupsResponse represents the group listing
type ListGroupsResponse struct {
	Groups []database.TaskGroup `json:"groups"`
	Total  int                  `json:"total"`
}

// CreateGroup creates a new task group
// POST /internal/groups
func CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if existing, err := database.GetTaskGroupByName(ctx, req.Name); err == nil && existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "group name already in use", "id": existing.ID})
		return
	}

	group, err := database.CreateTaskGroup(ctx, req.Name, req.DefaultIntervalSeconds, req.DefaultZipCode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create group"})
		return
	}
	c.JSON(http.StatusCreated, group)
}

// ListGroups returns all task groups
// GET /internal/groups
func ListGroups(c *gin.Context) {
	groups, err := database.ListTaskGroups(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list groups"})
		return
	}
	if groups == nil {
		groups = []database.TaskGroup{}
	}
	c.JSON(http.StatusOK, ListGroupsResponse{Groups: groups, Total: len(groups)})
}

// UpdateGroup enables or disables a group. Disabling takes every task in
// the group out of scheduling on the next tick.
// PATCH /internal/groups/:id
func UpdateGroup(c *gin.Context) {
	id := c.Param("id")

	var req UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := database.SetTaskGroupEnabled(ctx, id, *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	group, err := database.GetTaskGroup(ctx, id)
	if err != nil || group == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload group"})
		return
	}
	c.JSON(http.StatusOK, group)
}
