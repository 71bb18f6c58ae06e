package websocket

import (
	"errors"
	"net/http"
	"time"

	"safewalk/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	ErrDeviceOffline = errors.New("device not connected")
	ErrHubClosed     = errors.New("websocket hub closed")
)

// WebSocket upgrader configuration
var DefaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		logrus.Debugf("WebSocket connection from origin: %s", origin)
		return true // the app shell and the PWA are served from different origins
	},
}

// validateWebSocketMessage validates incoming WebSocket message structure
func validateWebSocketMessage(msg models.WSRequest) error {
	if msg.Type == "" {
		return errors.New("message type is required")
	}

	switch msg.Type {
	case models.WSTypeLocationSample, models.WSTypeLocationError, models.WSTypeCapabilities, models.WSTypeDeviceAck:
		if msg.Data == nil {
			return errors.New("message data is required")
		}
	}

	return nil
}

// createSuccessResponse creates a standardized success response
func createSuccessResponse(message string, data interface{}, requestID string) models.WSMessage {
	responseData := map[string]interface{}{
		"success": true,
		"message": message,
	}

	if data != nil {
		responseData["data"] = data
	}

	return models.WSMessage{
		Type:      models.WSTypeSuccess,
		Data:      responseData,
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// createErrorResponse creates a standardized error response
func createErrorResponse(code, message string, requestID string) models.WSMessage {
	return models.WSMessage{
		Type: models.WSTypeError,
		Data: map[string]interface{}{
			"success": false,
			"error": models.WSError{
				Code:      code,
				Message:   message,
				Timestamp: time.Now(),
			},
		},
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}
