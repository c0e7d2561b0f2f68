package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/scan"
)

// CreateTaskRequest represents the body for creating a scan task
type CreateTaskRequest struct {
	GroupID         string  `json:"group_id" binding:"required"`
	Name            string  `json:"name"`
	Retailer        string  `json:"retailer" binding:"required"`
	Query           string  `json:"query" binding:"required"`
	ZipCode         *string `json:"zip_code"`
	IntervalSeconds *int    `json:"interval_seconds" binding:"omitempty,min=1"`
	Enabled         *bool   `json:"enabled"`
}

// UpdateTaskRequest represents the body for toggling a task
type UpdateTaskRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ListTasksRequest represents query parameters for listing tasks
type ListTasksRequest struct {
	GroupID string `form:"groupId"`
}

// ListTasksResponse represents the task listing
type ListTasksResponse struct {
	Tasks []database.Task `json:"tasks"`
	Total int             `json:"total"`
}

// CreateTask creates a new scan task in an existing group
// @Summary Create scan task
// @Description Registers a scan task inside an existing group. The retailer must be a registered scanner; unknown retailers are rejected with the known list.
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body CreateTaskRequest true "Task to create"
// @Success 201 {object} database.Task
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 404 {object} map[string]string "Group not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /internal/tasks [post]
func CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := scan.DefaultRegistry.MustGet(req.Retailer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	group, err := database.GetTaskGroup(ctx, req.GroupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load group"})
		return
	}
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}

	name := req.Name
	if name == "" {
		name = req.Retailer + ": " + req.Query
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	task := &database.Task{
		GroupID:         req.GroupID,
		Name:            name,
		Enabled:         enabled,
		Retailer:        req.Retailer,
		Query:           req.Query,
		ZipCode:         req.ZipCode,
		IntervalSeconds: req.IntervalSeconds,
	}
	if err := database.CreateTask(ctx, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}

	created, err := database.GetTaskByID(ctx, task.ID)
	if err != nil || created == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload task"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListTasks returns tasks, optionally filtered to one group
// @Summary List scan tasks
// @Description Returns all scan tasks with their joined group settings, optionally filtered to one group
// @Tags tasks
// @Accept json
// @Produce json
// @Param groupId query string false "Filter by task group ID"
// @Success 200 {object} ListTasksResponse
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /internal/tasks [get]
func ListTasks(c *gin.Context) {
	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks, err := database.ListTasks(c.Request.Context(), req.GroupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []database.Task{}
	}
	c.JSON(http.StatusOK, ListTasksResponse{Tasks: tasks, Total: len(tasks)})
}

// GetTask returns one task with its last-run state
// @Summary Get scan task
// @Description Returns a single scan task by its ID, including last-run status and effective settings
// @Tags tasks
// @Accept json
// @Produce json
// @Param taskId path string true "Task ID"
// @Success 200 {object} database.Task
// @Failure 404 {object} map[string]string "Task not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /internal/tasks/{taskId} [get]
func GetTask(c *gin.Context) {
	task, err := database.GetTaskByID(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// UpdateTask enables or disables a task
// @Summary Update scan task
// @Description Enables or disables a single scan task
// @Tags tasks
// @Accept json
// @Produce json
// @Param taskId path string true "Task ID"
// @Param request body UpdateTaskRequest true "Fields to update"
// @Success 200 {object} database.Task
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 404 {object} map[string]string "Task not found"
// @Router /internal/tasks/{taskId} [patch]
func UpdateTask(c *gin.Context) {
	id := c.Param("taskId")

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := database.SetTaskEnabled(ctx, id, *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	task, err := database.GetTaskByID(ctx, id)
	if err != nil || task == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload task"})
		return
	}
	c.JSON(http.StatusOK, task)
}
