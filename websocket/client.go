package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Buffer size for client send channel
	sendBufferSize = 256
)

type Client struct {
	// WebSocket connection
	conn *websocket.Conn

	userID string

	// Connection metadata
	connectionID string
	connectedAt  time.Time
	lastActivity atomic.Int64
	deviceType   string
	appVersion   string
	ipAddress    string

	// Buffered channel of outbound messages
	send chan models.WSMessage

	// Hub reference
	hub *Hub

	rateLimiter *rate.Limiter

	active        atomic.Bool
	pingFailCount int
	cleanupOnce   sync.Once

	// Context for cleanup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient wraps an authenticated connection. The user id comes from the
// token checked before the upgrade.
func NewClient(conn *websocket.Conn, hub *Hub, userID string, r *http.Request) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		conn:         conn,
		hub:          hub,
		userID:       userID,
		send:         make(chan models.WSMessage, sendBufferSize),
		connectionID: utils.GenerateUUID(),
		connectedAt:  time.Now(),
		rateLimiter:  rate.NewLimiter(rate.Every(time.Minute/120), 120), // location samples arrive about once a second
		ctx:          ctx,
		cancel:       cancel,
	}
	client.active.Store(true)
	client.touch()

	if r != nil {
		client.deviceType = r.Header.Get("X-Device-Type")
		client.appVersion = r.Header.Get("X-App-Version")
		client.ipAddress = getClientIP(r)
	}

	return client
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) IsActive() bool { return c.active.Load() }

func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Start announces the connection to the client and starts both pumps.
func (c *Client) Start() {
	c.SendMessage(models.WSMessage{
		Type: models.WSTypeAuth,
		Data: models.WSAuthResponse{
			Success:      true,
			UserID:       c.userID,
			ConnectionID: c.connectionID,
		},
		Timestamp: time.Now(),
	})

	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) ReadPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, messageData, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket error for user %s: %v", c.userID, err)
			}
			return
		}

		c.touch()
		c.hub.incrementMessagesReceived()

		if !c.rateLimiter.Allow() {
			c.sendError(models.WSErrorRateLimit, "Rate limit exceeded", "")
			continue
		}

		c.handleMessage(messageData)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				logrus.Errorf("Write error for user %s: %v", c.userID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.pingFailCount++
				if c.pingFailCount > 3 {
					logrus.Warnf("Ping failed for user %s, disconnecting", c.userID)
					return
				}
			}
		}
	}
}

func (c *Client) handleMessage(messageData []byte) {
	var wsRequest models.WSRequest
	if err := json.Unmarshal(messageData, &wsRequest); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid message format", "")
		return
	}
	if err := validateWebSocketMessage(wsRequest); err != nil {
		c.sendError(models.WSErrorInvalidMessage, err.Error(), wsRequest.RequestID)
		return
	}

	switch wsRequest.Type {
	case models.WSTypePing:
		c.SendMessage(models.WSMessage{Type: models.WSTypePong, Timestamp: time.Now()})
	case models.WSTypeDeviceAck:
		c.handleDeviceAck(wsRequest)
	case models.WSTypeCapabilities:
		c.handleCapabilities(wsRequest)
	case models.WSTypeLocationSample:
		c.handleLocationSample(wsRequest)
	case models.WSTypeLocationError:
		c.handleLocationError(wsRequest)
	default:
		c.sendError(models.WSErrorInvalidMessage, "Unknown message type", wsRequest.RequestID)
	}
}

func (c *Client) handleDeviceAck(request models.WSRequest) {
	var ack models.DeviceAck
	if err := unmarshalMapToStruct(request.Data, &ack); err != nil || ack.RequestID == "" {
		c.sendError(models.WSErrorInvalidMessage, "Invalid device ack", request.RequestID)
		return
	}
	if !c.hub.resolveAck(ack) {
		logrus.WithFields(logrus.Fields{
			"userId":    c.userID,
			"requestId": ack.RequestID,
		}).Debug("Dropping late device ack")
	}
}

func (c *Client) handleCapabilities(request models.WSRequest) {
	engine := c.hub.getEngine()
	if engine == nil {
		c.sendError(models.WSErrorUnavailable, "Alert engine not ready", request.RequestID)
		return
	}

	caps, err := decodeCapabilities(request.Data)
	if err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid capabilities", request.RequestID)
		return
	}
	accepted, err := engine.SetCapabilities(c.userID, caps)
	if err != nil {
		c.sendError(models.WSErrorUnavailable, err.Error(), request.RequestID)
		return
	}
	c.sendSuccess("Capabilities recorded", map[string]interface{}{"accepted": accepted}, request.RequestID)
}

func (c *Client) handleLocationSample(request models.WSRequest) {
	engine := c.hub.getEngine()
	if engine == nil {
		c.sendError(models.WSErrorUnavailable, "Alert engine not ready", request.RequestID)
		return
	}

	sample, err := decodeLocationSample(request.Data, time.Now())
	if err != nil {
		c.sendError(models.WSErrorInvalidLocation, err.Error(), request.RequestID)
		return
	}
	if err := engine.PushLocation(c.userID, sample); err != nil {
		c.sendError(models.WSErrorUnavailable, err.Error(), request.RequestID)
	}
}

func (c *Client) handleLocationError(request models.WSRequest) {
	engine := c.hub.getEngine()
	if engine == nil {
		c.sendError(models.WSErrorUnavailable, "Alert engine not ready", request.RequestID)
		return
	}

	code, _ := request.Data["code"].(string)
	if code == "" {
		c.sendError(models.WSErrorInvalidMessage, "Error code required", request.RequestID)
		return
	}
	if err := engine.PushLocationError(c.userID, utils.LocationErrorFromCode(code)); err != nil {
		c.sendError(models.WSErrorUnavailable, err.Error(), request.RequestID)
	}
}

func (c *Client) sendError(code, message, requestID string) {
	c.SendMessage(createErrorResponse(code, message, requestID))
}

func (c *Client) sendSuccess(message string, data interface{}, requestID string) {
	c.SendMessage(createSuccessResponse(message, data, requestID))
}

// SendMessage queues a message without blocking and reports whether it was
// accepted.
func (c *Client) SendMessage(message models.WSMessage) bool {
	if !c.active.Load() {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		logrus.Warnf("Send channel full for user %s", c.userID)
		return false
	}
}

func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.active.Store(false)
		c.cancel()

		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}

		if c.conn != nil {
			c.conn.Close()
		}

		logrus.Infof("Client disconnected: %s (%s)", c.userID, c.connectionID)
	})
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	return r.RemoteAddr
}
