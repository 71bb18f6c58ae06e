// models/websocket.go
package models

import (
	"time"
)

// WebSocket Message Types
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	UserID    string      `json:"userId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"requestId,omitempty"`
}

type WSError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WebSocket Request Types
type WSRequest struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type WSAuthResponse struct {
	Success      bool   `json:"success"`
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// WSCopyMessage carries the copy-ready alert text to the user's own device.
type WSCopyMessage struct {
	SessionID string `json:"sessionId"`
	Body      string `json:"body"`
}

type WSHubStats struct {
	TotalConnections  int           `json:"totalConnections"`
	ActiveConnections int           `json:"activeConnections"`
	ConnectedUsers    int           `json:"connectedUsers"`
	MessagesSent      int64         `json:"messagesSent"`
	MessagesReceived  int64         `json:"messagesReceived"`
	PendingCommands   int           `json:"pendingCommands"`
	Uptime            time.Duration `json:"uptime"`
}

// WebSocket Event Constants
const (
	// Server to client
	WSTypeSOSState      = "sos.state"
	WSTypeSOSEffects    = "sos.effects"
	WSTypeSOSCopy       = "sos.copy"
	WSTypeDeviceCommand = "device.command"
	WSTypePong          = "pong"
	WSTypeError         = "error"
	WSTypeSuccess       = "success"

	// Client to server
	WSTypeAuth           = "auth"
	WSTypePing           = "ping"
	WSTypeCapabilities   = "capabilities"
	WSTypeLocationSample = "location.sample"
	WSTypeLocationError  = "location.error"
	WSTypeDeviceAck      = "device.ack"

	// Error codes
	WSErrorInvalidMessage  = "INVALID_MESSAGE"
	WSErrorUnauthorized    = "UNAUTHORIZED"
	WSErrorRateLimit       = "RATE_LIMIT"
	WSErrorInvalidLocation = "INVALID_LOCATION"
	WSErrorUnavailable     = "UNAVAILABLE"
)
