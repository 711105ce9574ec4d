package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/jobs"
)

// JobHandler exposes the job registry over HTTP.
type JobHandler struct {
	manager *jobs.Manager
}

// NewJobHandler creates a new job handler.
func NewJobHandler(manager *jobs.Manager) *JobHandler {
	return &JobHandler{manager: manager}
}

// SubmitRequest is the POST /api/v1/jobs payload.
type SubmitRequest struct {
	Kind   domain.JobKind   `json:"kind" binding:"required"`
	Params domain.JobParams `json:"parameters"`
}

// Submit handles POST /api/v1/jobs.
func (h *JobHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	snap, err := h.manager.Submit(c.Request.Context(), req.Kind, req.Params)
	if err != nil {
		if errors.Is(err, domain.ErrJobConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, snap)
}

// List handles GET /api/v1/jobs.
func (h *JobHandler) List(c *gin.Context) {
	snaps := h.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  snaps,
		"count": len(snaps),
	})
}

// Status handles GET /api/v1/jobs/:id.
func (h *JobHandler) Status(c *gin.Context) {
	snap, err := h.manager.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Cancel handles POST /api/v1/jobs/:id/cancel.
func (h *JobHandler) Cancel(c *gin.Context) {
	snap, err := h.manager.Cancel(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
