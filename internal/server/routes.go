package server

import (
	"net/http"

	"github.com/cozy-creator/lineage-server/internal/api"
	"github.com/cozy-creator/lineage-server/internal/api/middleware"
	"github.com/cozy-creator/lineage-server/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) SetupRoutes(app *app.App) {
	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.ginEngine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Not an API, just a simple file server endpoint
	s.ginEngine.GET("/file/:filename", handlerWrapper(app, api.GetFile))

	apiV1 := s.ginEngine.Group("/api/v1")
	apiV1.Use(handlerWrapper(app, middleware.IdentityMiddleware))

	apiV1.GET("/operations", handlerWrapper(app, api.ListOperations))

	images := apiV1.Group("/images")
	images.POST("", handlerWrapper(app, api.UploadImages))
	images.GET("", handlerWrapper(app, api.ListImages))
	images.GET("/:id", handlerWrapper(app, api.GetImage))
	images.GET("/:id/tree", handlerWrapper(app, api.GetImageTree))
	images.POST("/:id/process", handlerWrapper(app, api.ProcessImage))
	images.POST("/:id/process/batch", handlerWrapper(app, api.ProcessImageBatch))
	images.DELETE("/:id", handlerWrapper(app, api.DeleteImage))
	images.DELETE("/:id/versions/:versionId", handlerWrapper(app, api.DeleteVersion))

	apiV1.GET("/processed", handlerWrapper(app, api.ListProcessedVersions))
	apiV1.POST("/prompts/assist", handlerWrapper(app, api.AssistPrompt))
}

func handlerWrapper(app *app.App, f func(c *gin.Context)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set("app", app)
		f(ctx)
	}
}
