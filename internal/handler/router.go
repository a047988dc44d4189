package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docquery/internal/middleware"
)

type RouterDeps struct {
	Projects   *ProjectHandler
	Documents  *DocumentHandler
	Queries    *QueryHandler
	Health     *HealthHandler
	Properties *PropertiesHandler

	// WriteRateLimit throttles the expensive mutating routes, zero disables.
	WriteRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Check)
	api.GET("/properties", deps.Properties.Get)

	api.GET("/projects", deps.Projects.List)
	api.POST("/projects", deps.Projects.Create)
	api.GET("/projects/:id", deps.Projects.Get)
	api.PUT("/projects/:id", deps.Projects.Update)
	api.DELETE("/projects/:id", deps.Projects.Delete)

	api.GET("/projects/:id/documents", deps.Documents.List)
	api.GET("/projects/:id/documents/:doc_id", deps.Documents.Get)
	api.GET("/projects/:id/documents/:doc_id/passages", deps.Documents.Passages)
	api.DELETE("/projects/:id/documents/:doc_id", deps.Documents.Delete)

	api.GET("/projects/:id/queries", deps.Queries.History)
	api.GET("/projects/:id/queries/:query_id", deps.Queries.Get)

	// Uploads, reprocessing and query submission hit the embedding and
	// generation providers, so they share a throttle.
	writeGroup := api.Group("")
	writeGroup.Use(middleware.RateLimit(deps.WriteRateLimit))
	writeGroup.POST("/projects/:id/documents", deps.Documents.Upload)
	writeGroup.POST("/projects/:id/documents/:doc_id/reprocess", deps.Documents.Reprocess)
	writeGroup.POST("/projects/:id/queries", deps.Queries.Submit)
}
