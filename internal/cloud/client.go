// Package cloud provides the WebSocket uplink that forwards bearing
// measurements to a remote collector
package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-aoa/internal/aoa"
	"github.com/teslashibe/go-aoa/internal/protocol"
)

// Config holds cloud client configuration
type Config struct {
	URL              string        // WebSocket URL (e.g., "ws://collector.example.com/ws/sensor")
	DeviceID         string        // Sent in hello, generated when empty
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
	QueueSize        int           // Pending measurements before drops
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws/sensor",
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
		QueueSize:        64,
	}
}

// Client manages the WebSocket connection to the collector. It
// implements aoa.Reporter: Report only queues, a sender goroutine writes.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	hello     protocol.HelloData

	writeMu sync.Mutex
	queue   chan *protocol.Message

	// Stats
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	dropped          atomic.Uint64
	reconnects       atomic.Uint64
}

// NewClient creates a new cloud client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		hello:  protocol.HelloData{DeviceID: cfg.DeviceID},
		queue:  make(chan *protocol.Message, cfg.QueueSize),
	}
}

// DeviceID returns the identifier sent in hello messages
func (c *Client) DeviceID() string {
	return c.cfg.DeviceID
}

// SetHello sets the hello payload sent on every (re)connect.
// The device ID is always the client's own.
func (c *Client) SetHello(hello protocol.HelloData) {
	hello.DeviceID = c.cfg.DeviceID
	c.mu.Lock()
	c.hello = hello
	c.mu.Unlock()
}

// Connect starts the connection and sender loops
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.connectionLoop(ctx)
	go c.sendLoop(ctx)
	return nil
}

// connectionLoop manages connection with auto-reconnect
func (c *Client) connectionLoop(ctx context.Context) {
	backoff := c.cfg.ReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("cloud connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			// Exponential backoff
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			c.reconnects.Add(1)
			continue
		}

		// Reset backoff on successful connection
		backoff = c.cfg.ReconnectBackoff

		// Read messages until error
		c.readLoop(ctx)
	}
}

// connect establishes the WebSocket connection and introduces the sensor
func (c *Client) connect(ctx context.Context) error {
	c.logger.Info("connecting to cloud", "url", c.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	hello := c.hello
	c.mu.Unlock()

	c.logger.Info("connected to cloud", "device_id", c.cfg.DeviceID)

	msg, err := protocol.NewHelloMessage(hello)
	if err != nil {
		return err
	}
	if err := c.SendMessage(msg); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	// Start ping goroutine
	go c.pingLoop(ctx, conn)

	return nil
}

// pingLoop sends periodic pings until the connection is replaced
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}

			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop reads messages from cloud
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("read error", "error", err)
			c.closeConnection()
			return
		}

		c.messagesReceived.Add(1)
		c.handleMessage(data)
	}
}

// handleMessage processes incoming messages
func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("parse message error", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		// Respond with pong
		pong := &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()}
		c.SendMessage(pong)

	case protocol.TypePong:

	default:
		c.logger.Debug("ignoring message", "type", msg.Type)
	}
}

// sendLoop drains the measurement queue
func (c *Client) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.queue:
			if err := c.SendMessage(msg); err != nil {
				c.dropped.Add(1)
				c.logger.Debug("measurement dropped", "error", err)
			}
		}
	}
}

// Report queues a measurement for the collector. It never blocks: when
// the queue is full the measurement is dropped.
func (c *Client) Report(m aoa.Measurement) {
	msg, err := protocol.NewAoAMessage(m)
	if err != nil {
		c.dropped.Add(1)
		return
	}

	select {
	case c.queue <- msg:
	default:
		c.dropped.Add(1)
	}
}

// SendStats sends tracker statistics to cloud
func (c *Client) SendStats(stats aoa.TrackerStats) error {
	msg, err := protocol.NewStatsMessage(stats)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendMessage sends a message to cloud
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("send error", "error", err)
		c.closeConnection()
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent.Add(1)
	return nil
}

// closeConnection closes the WebSocket connection
func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts down the client
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeConnection()
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns client statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	DeviceID         string `json:"device_id"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Dropped          uint64 `json:"dropped"`
	Reconnects       uint64 `json:"reconnects"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	return Stats{
		Connected:        connected,
		DeviceID:         c.cfg.DeviceID,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Dropped:          c.dropped.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}
