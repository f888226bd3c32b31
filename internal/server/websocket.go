package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-aoa/internal/aoa"
	"github.com/teslashibe/go-aoa/internal/protocol"
)

// wsClient serializes writes to one connection
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections and broadcasts every measurement
type WSHub struct {
	tracker *aoa.Tracker
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(tracker *aoa.Tracker, logger *slog.Logger) *WSHub {
	return &WSHub{
		tracker: tracker,
		logger:  logger,
		clients: make(map[*websocket.Conn]*wsClient),
		done:    make(chan struct{}),
	}
}

// Run forwards tracker measurements to all clients until ctx is cancelled
// or the tracker stops
func (h *WSHub) Run(ctx context.Context) {
	h.cancelMu.Lock()
	ctx, h.cancel = context.WithCancel(ctx)
	h.cancelMu.Unlock()
	defer close(h.done)

	if h.tracker == nil {
		<-ctx.Done()
		return
	}

	updates := h.tracker.Subscribe()
	defer h.tracker.Unsubscribe(updates)

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case m, ok := <-updates:
			if !ok {
				h.logger.Info("websocket hub stopped", "reason", "tracker stopped")
				return
			}

			msg, err := protocol.NewAoAMessage(m)
			if err != nil {
				h.logger.Warn("websocket marshal error", "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if err := client.write(data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	// Middleware to check if request is a WebSocket upgrade
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the bearing stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	client := &wsClient{conn: c}

	h.mu.Lock()
	h.clients[c] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		h.handleCommand(client, msg)
	}
}

func (h *WSHub) handleCommand(client *wsClient, data []byte) {
	cmd, err := protocol.ParseMessage(data)
	if err != nil {
		return
	}

	var reply *protocol.Message

	switch cmd.Type {
	case protocol.TypePing:
		reply = &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()}
	case protocol.TypeStats:
		if h.tracker != nil {
			reply, err = protocol.NewStatsMessage(h.tracker.Stats())
		}
	}

	if reply == nil || err != nil {
		return
	}

	out, err := reply.Bytes()
	if err != nil {
		return
	}
	client.write(out)
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.cancelMu.Lock()
	cancel := h.cancel
	h.cancelMu.Unlock()

	if cancel != nil {
		cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*wsClient)
	h.mu.Unlock()
}
