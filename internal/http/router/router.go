package router

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"replyloop.app/engine/internal/http/handler"
	"replyloop.app/engine/internal/http/middleware"
	"replyloop.app/engine/internal/scheduler"
)

type RouterConfig struct {
	ServiceName string
	OTelEnabled bool
}

func SetupRoutes(router *gin.Engine, sched *scheduler.Scheduler, cfg RouterConfig) {
	if cfg.OTelEnabled {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	engineHandler := handler.NewEngineHandler(sched)

	v1 := router.Group("/api/v1")
	{
		EngineRouter(v1, engineHandler)
	}
}
