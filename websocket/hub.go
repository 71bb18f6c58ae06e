package websocket

import (
	"context"
	"sync"
	"time"

	"safewalk/models"
	"safewalk/services"
	"safewalk/utils"

	"github.com/sirupsen/logrus"
)

// Engine is the part of the alert engine that client reports are routed to.
type Engine interface {
	services.LocationSink
	SetCapabilities(userID string, caps models.DeviceCapabilities) (bool, error)
}

type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// A user may be connected from more than one tab or device
	userClients map[string]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Send message to specific user
	sendToUser chan UserMessage

	engine   Engine
	engineMu sync.RWMutex

	// Device commands waiting for an ack, by request id
	pending   map[string]chan models.DeviceAck
	pendingMu sync.Mutex

	commandTimeout time.Duration

	// Hub statistics
	stats HubStats

	// Mutex for thread safety
	mutex sync.RWMutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc

	cleanupTicker *time.Ticker
}

type UserMessage struct {
	UserID  string
	Message models.WSMessage
}

type HubStats struct {
	TotalConnections  int64
	ActiveConnections int
	MessagesSent      int64
	MessagesReceived  int64
	StartTime         time.Time

	mutex sync.RWMutex
}

func NewHub(commandTimeout time.Duration) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Second
	}

	hub := &Hub{
		clients:        make(map[*Client]bool),
		userClients:    make(map[string]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		sendToUser:     make(chan UserMessage, 256),
		pending:        make(map[string]chan models.DeviceAck),
		commandTimeout: commandTimeout,
		stats: HubStats{
			StartTime: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}

	hub.cleanupTicker = time.NewTicker(5 * time.Minute)

	return hub
}

// AttachEngine wires client reports (locations, capabilities) to the engine.
// The engine is built after the hub because it uses the hub as its device
// bridge and notifier.
func (h *Hub) AttachEngine(engine Engine) {
	h.engineMu.Lock()
	h.engine = engine
	h.engineMu.Unlock()
}

func (h *Hub) getEngine() Engine {
	h.engineMu.RLock()
	defer h.engineMu.RUnlock()
	return h.engine
}

func (h *Hub) Run() {
	logrus.Info("WebSocket Hub starting...")

	go h.runCleanup()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case userMessage := <-h.sendToUser:
			h.sendMessageToUser(userMessage)

		case <-h.ctx.Done():
			logrus.Info("WebSocket Hub shutting down...")
			return
		}
	}
}

// Register queues a connected client; it is a no-op after shutdown.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	if h.userClients[client.userID] == nil {
		h.userClients[client.userID] = make(map[*Client]bool)
	}
	h.userClients[client.userID][client] = true

	h.stats.mutex.Lock()
	h.stats.ActiveConnections++
	h.stats.TotalConnections++
	active := h.stats.ActiveConnections
	h.stats.mutex.Unlock()

	logrus.Infof("Client registered: %s (Total: %d)", client.userID, active)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if conns := h.userClients[client.userID]; conns != nil {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.userClients, client.userID)
		}
	}

	h.stats.mutex.Lock()
	h.stats.ActiveConnections--
	active := h.stats.ActiveConnections
	h.stats.mutex.Unlock()

	logrus.Infof("Client unregistered: %s (Total: %d)", client.userID, active)
}

// sendMessageToUser delivers to every connection of the user and returns how
// many connections accepted the message.
func (h *Hub) sendMessageToUser(userMessage UserMessage) int {
	h.mutex.RLock()
	conns := make([]*Client, 0, len(h.userClients[userMessage.UserID]))
	for client := range h.userClients[userMessage.UserID] {
		conns = append(conns, client)
	}
	h.mutex.RUnlock()

	delivered := 0
	for _, client := range conns {
		if client.SendMessage(userMessage.Message) {
			delivered++
		}
	}
	if delivered > 0 {
		h.incrementMessagesSent(int64(delivered))
	}
	return delivered
}

// SendToUser queues a typed message for every connection of the user. It
// never blocks; messages are dropped when the queue is full.
func (h *Hub) SendToUser(userID string, messageType string, data interface{}) {
	userMsg := UserMessage{
		UserID: userID,
		Message: models.WSMessage{
			Type:      messageType,
			Data:      data,
			UserID:    userID,
			Timestamp: time.Now(),
		},
	}

	select {
	case h.sendToUser <- userMsg:
	default:
		logrus.Warnf("SendToUser channel full, dropping %s for user %s", messageType, userID)
	}
}

// SendCommand sends a device command to the user's connections and waits for
// the first ack. Without a deadline on ctx the hub's command timeout applies.
func (h *Hub) SendCommand(ctx context.Context, userID, command string, params map[string]interface{}) (models.DeviceAck, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.commandTimeout)
		defer cancel()
	}

	cmd := models.DeviceCommand{
		RequestID: utils.GenerateUUID(),
		Command:   command,
		Params:    params,
	}
	ackCh := make(chan models.DeviceAck, 1)

	h.pendingMu.Lock()
	h.pending[cmd.RequestID] = ackCh
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, cmd.RequestID)
		h.pendingMu.Unlock()
	}()

	delivered := h.sendMessageToUser(UserMessage{
		UserID: userID,
		Message: models.WSMessage{
			Type:      models.WSTypeDeviceCommand,
			Data:      cmd,
			UserID:    userID,
			RequestID: cmd.RequestID,
			Timestamp: time.Now(),
		},
	})
	if delivered == 0 {
		return models.DeviceAck{}, ErrDeviceOffline
	}

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-ctx.Done():
		return models.DeviceAck{}, ctx.Err()
	case <-h.ctx.Done():
		return models.DeviceAck{}, ErrHubClosed
	}
}

// resolveAck hands an ack to its waiting command. Late or unknown acks are
// dropped.
func (h *Hub) resolveAck(ack models.DeviceAck) bool {
	h.pendingMu.Lock()
	ch, ok := h.pending[ack.RequestID]
	if ok {
		delete(h.pending, ack.RequestID)
	}
	h.pendingMu.Unlock()

	if !ok {
		return false
	}
	ch <- ack
	return true
}

// Devices returns the device bridge of a user. It satisfies
// services.DeviceProvider.
func (h *Hub) Devices(userID string) services.DeviceSet {
	b := &deviceBridge{hub: h, userID: userID}
	return services.DeviceSet{
		Capture:  captureBridge{b},
		Torch:    torchBridge{b},
		Audio:    audioBridge{b},
		Vibrator: vibratorBridge{b},
	}
}

func (h *Hub) GetStats() models.WSHubStats {
	h.mutex.RLock()
	users := len(h.userClients)
	h.mutex.RUnlock()

	h.pendingMu.Lock()
	pending := len(h.pending)
	h.pendingMu.Unlock()

	h.stats.mutex.RLock()
	defer h.stats.mutex.RUnlock()

	return models.WSHubStats{
		TotalConnections:  int(h.stats.TotalConnections),
		ActiveConnections: h.stats.ActiveConnections,
		ConnectedUsers:    users,
		MessagesSent:      h.stats.MessagesSent,
		MessagesReceived:  h.stats.MessagesReceived,
		PendingCommands:   pending,
		Uptime:            time.Since(h.stats.StartTime),
	}
}

func (h *Hub) incrementMessagesSent(n int64) {
	h.stats.mutex.Lock()
	h.stats.MessagesSent += n
	h.stats.mutex.Unlock()
}

func (h *Hub) incrementMessagesReceived() {
	h.stats.mutex.Lock()
	h.stats.MessagesReceived++
	h.stats.mutex.Unlock()
}

func (h *Hub) runCleanup() {
	for {
		select {
		case <-h.cleanupTicker.C:
			h.performCleanup()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) performCleanup() {
	h.mutex.RLock()
	stale := make([]*Client, 0)
	for client := range h.clients {
		if !client.IsActive() || time.Since(client.LastActivity()) > 5*time.Minute {
			stale = append(stale, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range stale {
		logrus.Warnf("Removing inactive client: %s", client.userID)
		go client.cleanup()
	}
}

func (h *Hub) Shutdown() {
	logrus.Info("Shutting down WebSocket Hub...")

	h.cleanupTicker.Stop()
	h.cancel()

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.cleanup()
	}

	logrus.Info("WebSocket Hub shutdown complete")
}
