package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Pub/Sub push endpoint. Authenticated at the infrastructure level
		// (push subscription OIDC), not with user bearer tokens.
		api.POST("/notifications/webhook", h.HandleWebhook)

		// Realtime websocket
		api.GET("/realtime", AuthMiddleware(h.config.JWTSecret), h.HandleRealtime)

		// Watch lifecycle (protected)
		accounts := api.Group("/accounts")
		accounts.Use(AuthMiddleware(h.config.JWTSecret))
		{
			accounts.POST("/:id/watch", h.EstablishWatch)
			accounts.DELETE("/:id/watch", h.CancelWatch)
		}

		// Scheduled sends (protected)
		sends := api.Group("/sends")
		sends.Use(AuthMiddleware(h.config.JWTSecret))
		{
			sends.POST("", h.CreateScheduledSend)
			sends.POST("/:id/cancel", h.CancelScheduledSend)
		}

		// FCM routes (protected)
		fcm := api.Group("/fcm")
		fcm.Use(AuthMiddleware(h.config.JWTSecret))
		{
			fcm.POST("/register", h.RegisterDeviceToken)
			fcm.DELETE("/:token", h.UnregisterDeviceToken)
		}
	}
}
