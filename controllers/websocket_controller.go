package controllers

import (
	"safewalk/middleware"
	"safewalk/utils"
	"safewalk/websocket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub        *websocket.Hub
	jwtService *utils.JWTService
}

func NewWebSocketController(hub *websocket.Hub, jwtService *utils.JWTService) *WebSocketController {
	return &WebSocketController{
		hub:        hub,
		jwtService: jwtService,
	}
}

// HandleWebSocket upgrades an authenticated request to the device channel.
// Browsers cannot set headers on the upgrade, so the token may come as a
// query parameter.
func (wsc *WebSocketController) HandleWebSocket(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		utils.UnauthorizedResponse(c, "Authentication token is required")
		return
	}

	userID, err := wsc.jwtService.ExtractUserID(token)
	if err != nil {
		logrus.Warnf("WebSocket authentication failed: %v", err)
		utils.UnauthorizedResponse(c, "Invalid authentication token")
		return
	}

	// Upgrade writes its own error response on failure
	conn, err := websocket.DefaultUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("Failed to upgrade WebSocket connection: %v", err)
		return
	}

	client := websocket.NewClient(conn, wsc.hub, userID, c.Request)
	wsc.hub.Register(client)
	client.Start()

	logrus.Infof("WebSocket connection established for user: %s", userID)
}

// GetConnectionStats returns the hub counters.
func (wsc *WebSocketController) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, "Connection statistics retrieved successfully", wsc.hub.GetStats())
}
