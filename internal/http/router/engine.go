package router

import (
	"github.com/gin-gonic/gin"

	"replyloop.app/engine/internal/http/handler"
)

func EngineRouter(router *gin.RouterGroup, handler *handler.EngineHandler) {
	router.GET("/status", handler.Status)
	router.POST("/run", handler.Run)
	router.POST("/stop", handler.Stop)
	router.POST("/guard/reset", handler.ResetGuard)
}
