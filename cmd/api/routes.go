package main

import (
	"github.com/gin-gonic/gin"

	"call-platform/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		callGroup := v1.Group("/calls")
		{
			callGroup.POST("", h.InitiateCall)
			callGroup.GET("/active", h.GetActiveCall)
			callGroup.GET("/:call_id", h.GetCall)
			callGroup.GET("/:call_id/watch", h.WatchCall)
			callGroup.POST("/:call_id/answer", h.AnswerCall)
			callGroup.POST("/:call_id/connected", h.MarkConnected)
			callGroup.POST("/:call_id/candidates", h.SendCandidate)
			callGroup.POST("/:call_id/decline", h.DeclineCall)
			callGroup.POST("/:call_id/end", h.EndCall)
		}
	}
}
