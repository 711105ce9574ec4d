package api

import (
	"github.com/gin-gonic/gin"

	"github.com/vkadlec/judikat/internal/api/handler"
	"github.com/vkadlec/judikat/internal/api/middleware"
	"github.com/vkadlec/judikat/internal/jobs"
	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/repository"
	"github.com/vkadlec/judikat/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	repo *repository.DecisionRepository,
	searchService *service.SearchService,
	manager *jobs.Manager,
	log *logger.Logger,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler()
	decisionHandler := handler.NewDecisionHandler(repo)
	searchHandler := handler.NewSearchHandler(searchService)
	jobHandler := handler.NewJobHandler(manager)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Decisions
		v1.GET("/decisions", decisionHandler.ListDecisions)
		v1.GET("/decisions/:ecli", decisionHandler.GetDecision)

		// Search
		v1.POST("/search", searchHandler.Search)

		// Stats
		v1.GET("/stats", decisionHandler.GetStats)

		// Jobs
		v1.POST("/jobs", jobHandler.Submit)
		v1.GET("/jobs", jobHandler.List)
		v1.GET("/jobs/:id", jobHandler.Status)
		v1.POST("/jobs/:id/cancel", jobHandler.Cancel)
	}

	return r
}
