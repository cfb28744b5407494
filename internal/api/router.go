package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/balaji-balu/converge/internal/api/handlers"
	"github.com/balaji-balu/converge/internal/api/middleware"
	"github.com/balaji-balu/converge/internal/drift"
	"github.com/balaji-balu/converge/internal/reconciler"
	"github.com/balaji-balu/converge/internal/statestore"
)

func NewRouter(mgr *reconciler.Manager, store *statestore.Store, det *drift.Detector, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", handlers.Healthz)

	api := r.Group("/api/v1")
	{
		api.POST("/deployments", func(c *gin.Context) { handlers.SubmitDeployment(c, mgr, logger) })
		api.GET("/deployments/:name", func(c *gin.Context) { handlers.GetDeployment(c, mgr) })
		api.GET("/deployments/:name/history", func(c *gin.Context) { handlers.GetHistory(c, store) })
		api.GET("/deployments/:name/drift", func(c *gin.Context) { handlers.GetDrift(c, store) })
		api.POST("/deployments/:name/retry", func(c *gin.Context) { handlers.RetryDeployment(c, mgr) })
		api.POST("/deployments/:name/drift/check", func(c *gin.Context) { handlers.CheckDrift(c, det) })
		api.GET("/runs/:id", func(c *gin.Context) { handlers.GetRun(c, mgr) })
		api.POST("/runs/:id/cancel", func(c *gin.Context) { handlers.CancelRun(c, mgr) })
	}

	return r
}
