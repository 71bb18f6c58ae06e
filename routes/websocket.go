// routes/websocket.go
package routes

import (
	"safewalk/controllers"
	"safewalk/middleware"

	"github.com/gin-gonic/gin"
)

// SetupWebSocketRoutes configures the device channel and its stats.
func SetupWebSocketRoutes(router *gin.Engine, wsController *controllers.WebSocketController, deps Dependencies) {
	router.GET("/ws", middleware.WebSocketRateLimit(deps.Redis), wsController.HandleWebSocket)

	ws := router.Group("/api/v1/ws")
	ws.Use(middleware.NewAuthMiddleware(deps.JWT).RequireAuth())
	{
		ws.GET("/stats", wsController.GetConnectionStats)
	}
}
