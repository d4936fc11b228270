package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/opsdash-api/api/swagger"
	"github.com/noah-isme/opsdash-api/internal/handler"
	"github.com/noah-isme/opsdash-api/internal/middleware"
	"github.com/noah-isme/opsdash-api/internal/models"
	"github.com/noah-isme/opsdash-api/pkg/config"
	"github.com/noah-isme/opsdash-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/opsdash-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/opsdash-api/pkg/middleware/requestid"
)

// routes collects the handlers mounted by newRouter. notifications is nil
// when the change stream is disabled.
type routes struct {
	approvals     *handler.ApprovalHandler
	records       *handler.RecordHandler
	notifications *handler.NotificationHandler
	metrics       *handler.MetricsHandler
	verifier      middleware.TokenVerifier
	observer      middleware.HTTPObserver
}

func newRouter(cfg *config.Config, logr *zap.Logger, rt routes) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(rt.observer))

	r.GET("/health", rt.metrics.Health)
	r.GET("/ready", rt.metrics.Ready)
	r.GET("/metrics", rt.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(rt.verifier))

	mutators := api.Group("")
	mutators.Use(middleware.Mutators())
	mutators.POST("/mutations", rt.approvals.Submit)
	mutators.GET("/approvals", rt.approvals.ListPending)
	mutators.GET("/approvals/:id", rt.approvals.Get)
	mutators.POST("/records/:table", rt.records.Create)
	mutators.PATCH("/records/:table/:id", rt.records.Edit)
	mutators.DELETE("/records/:table/:id", rt.records.Delete)

	api.POST("/approvals/:id/review",
		middleware.RequireRoles(models.RoleAdmin, models.RolePlanner),
		rt.approvals.Review,
	)

	api.GET("/records/:table", rt.records.List)
	api.GET("/records/:table/:id", rt.records.Get)
	api.GET("/policy", rt.records.Policy)

	if rt.notifications != nil {
		api.GET("/ws/changes", rt.notifications.Stream)
	}

	return r
}
