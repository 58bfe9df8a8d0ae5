// Package api exposes the reconciliation engine over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/contaflow/recon-backend/internal/application/reconciler"
	"github.com/contaflow/recon-backend/internal/infrastructure/config"
)

// Server wires the HTTP surface to the reconciliation engine.
type Server struct {
	cfg    *config.Config
	engine *reconciler.Reconciler
	jobs   *reconciler.JobService
	logger *slog.Logger
}

// NewServer creates an API server.
func NewServer(cfg *config.Config, engine *reconciler.Reconciler, jobs *reconciler.JobService, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		jobs:   jobs,
		logger: logger,
	}
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/api/health"},
	}))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Tenant-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})

		api.GET("/suggestions", s.getSuggestions)
		api.GET("/stats", s.getStats)
		api.GET("/runs", s.getRuns)

		api.POST("/matches", s.postMatch)
		api.POST("/matches/:txId/confirm", s.confirmSuggestion)
		api.POST("/matches/:txId/non-reconcilable", s.markNonReconcilable)

		api.POST("/splits", s.postSplit)
		api.GET("/splits/:id", s.getSplit)
		api.DELETE("/splits/:id", s.deleteSplit)

		api.POST("/classifications", s.postClassification)

		api.GET("/exclusions", s.getExclusions)
		api.POST("/exclusions", s.postExclusion)
		api.DELETE("/exclusions/:txId", s.deleteExclusion)

		api.POST("/reconcile", s.postReconcile)
		api.GET("/reconcile/:jobId", s.getReconcileJob)
		api.DELETE("/reconcile/:jobId", s.cancelReconcileJob)
	}

	return router
}

// Run starts the HTTP server on the configured port.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}
