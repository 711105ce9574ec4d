package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/repository"
)

// DecisionHandler serves decision records and pipeline statistics.
type DecisionHandler struct {
	repo *repository.DecisionRepository
}

// NewDecisionHandler creates a new decision handler.
func NewDecisionHandler(repo *repository.DecisionRepository) *DecisionHandler {
	return &DecisionHandler{repo: repo}
}

// ListDecisions handles GET /api/v1/decisions.
// Query parameters: status, date_from, date_to (YYYY-MM-DD), limit, offset.
func (h *DecisionHandler) ListDecisions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	filter := repository.ListFilter{
		Status: domain.DecisionStatus(c.Query("status")),
	}
	if from := c.Query("date_from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date_from, expected YYYY-MM-DD"})
			return
		}
		filter.DateFrom = &t
	}
	if to := c.Query("date_to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date_to, expected YYYY-MM-DD"})
			return
		}
		filter.DateTo = &t
	}

	decisions, err := h.repo.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list decisions: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"limit":     limit,
		"offset":    offset,
		"count":     len(decisions),
	})
}

// GetDecision handles GET /api/v1/decisions/:ecli.
func (h *DecisionHandler) GetDecision(c *gin.Context) {
	ecli := c.Param("ecli")
	d, err := h.repo.GetByECLI(c.Request.Context(), ecli)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load decision: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetStats handles GET /api/v1/stats.
func (h *DecisionHandler) GetStats(c *gin.Context) {
	stats, err := h.repo.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
