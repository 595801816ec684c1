package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/brandvault/dam-backend/internal/handlers"
	"github.com/brandvault/dam-backend/internal/platform/envutil"
)

type RouterConfig struct {
	UploadsHandler   *handlers.UploadsHandler
	AssetsHandler    *handlers.AssetsHandler
	ApprovalsHandler *handlers.ApprovalsHandler
	IncidentsHandler *handlers.IncidentsHandler
	JobsHandler      *handlers.JobsHandler
	FieldsHandler    *handlers.FieldsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := strings.Split(envutil.String("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Uploads
		api.POST("/uploads", cfg.UploadsHandler.Initiate)
		api.POST("/uploads/:id/progress", cfg.UploadsHandler.Progress)
		api.POST("/uploads/:id/parts", cfg.UploadsHandler.Part)
		api.POST("/uploads/:id/complete", cfg.UploadsHandler.Complete)
		api.POST("/uploads/:id/fail", cfg.UploadsHandler.Fail)

		// Assets
		api.GET("/assets", cfg.AssetsHandler.List)
		api.GET("/assets/:id", cfg.AssetsHandler.Get)
		api.GET("/assets/:id/versions", cfg.AssetsHandler.Versions)
		api.POST("/assets/:id/versions/:version_id/restore", cfg.AssetsHandler.RestoreVersion)
		api.GET("/assets/:id/metadata", cfg.AssetsHandler.Metadata)
		api.GET("/assets/:id/tags", cfg.AssetsHandler.Tags)
		api.GET("/assets/:id/candidates", cfg.AssetsHandler.Candidates)
		api.POST("/assets/:id/metadata/:field_id/approve", cfg.AssetsHandler.ApproveMetadata)
		api.POST("/candidates/metadata/:id/dismiss", cfg.AssetsHandler.DismissMetadataCandidate)
		api.POST("/candidates/tags/:id/dismiss", cfg.AssetsHandler.DismissTagCandidate)

		// Approval gate
		api.POST("/assets/:id/approval/submit", cfg.ApprovalsHandler.Submit)
		api.POST("/assets/:id/approval/approve", cfg.ApprovalsHandler.Approve)
		api.POST("/assets/:id/approval/reject", cfg.ApprovalsHandler.Reject)
		api.POST("/assets/:id/approval/resubmit", cfg.ApprovalsHandler.Resubmit)
		api.GET("/assets/:id/approval/comments", cfg.ApprovalsHandler.Comments)

		// Incidents + retry
		api.GET("/incidents", cfg.IncidentsHandler.ListOpen)
		api.POST("/incidents/:id/resolve", cfg.IncidentsHandler.Resolve)
		api.POST("/assets/:id/retry", cfg.IncidentsHandler.RetryAsset)

		// Metadata fields
		api.GET("/fields", cfg.FieldsHandler.List)
		api.PUT("/fields/:id/visibility", cfg.FieldsHandler.SetVisibility)

		// Jobs
		api.GET("/jobs/:id", cfg.JobsHandler.Get)
		api.POST("/jobs/:id/cancel", cfg.JobsHandler.Cancel)
		api.POST("/jobs/:id/restart", cfg.JobsHandler.Restart)
	}

	return router
}
