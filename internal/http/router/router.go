package router

import (
	"github.com/gin-gonic/gin"

	"lessonlab.app/studio/internal/gate"
	"lessonlab.app/studio/internal/http/handler"
	"lessonlab.app/studio/internal/queue"
	"lessonlab.app/studio/internal/store"
)

func SetupRoutes(router *gin.Engine, st store.SessionStore, g *gate.Gate, producer queue.Producer) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	sessionHandler := handler.NewSessionHandler(st, g, producer)

	v1 := router.Group("/api/v1")
	{
		sessions := v1.Group("/sessions/:id")
		sessions.GET("/lessons/:version", sessionHandler.GetLesson)
		sessions.GET("/plans/:version", sessionHandler.GetPlan)
		sessions.POST("/plans/:version/entries/:entryID/decision", sessionHandler.Decide)
		sessions.GET("/audit", sessionHandler.GetAudit)
		sessions.GET("/status", sessionHandler.GetStatus)
		sessions.POST("/evaluate", sessionHandler.Evaluate)
	}
}
