package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hummel22/bambuQueue/internal/config"
	"github.com/hummel22/bambuQueue/internal/db"
)

type UpdateJobStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type JobHandler struct {
	store *db.Store
	paths config.PathsConfig
}

func NewJobHandler(store *db.Store, paths config.PathsConfig) *JobHandler {
	return &JobHandler{store: store, paths: paths}
}

func (h *JobHandler) ListCompletedJobs(c *gin.Context) {
	jobs, err := h.store.GetCompletedJobsOrdered(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list completed jobs"})
		return
	}
	if jobs == nil {
		jobs = []*db.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// UpdateJobStatus is the user action that promotes an imported job into the
// queue, or cancels it. Asset relocation between the jobs and completed
// directories happens inside the store.
func (h *JobHandler) UpdateJobStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	var req UpdateJobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.store.GetJob(c.Request.Context(), id); err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	if err := h.store.UpdateJobStatus(c.Request.Context(), id, req.Status, h.paths.JobsDir, h.paths.CompletedDir); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload job"})
		return
	}
	c.JSON(http.StatusOK, job)
}
