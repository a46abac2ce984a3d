package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/racesync/go/internal/multiplayer/registry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer full")
)

// ConnectionManager owns every live race connection and is the Sender used by
// the per-connection handlers
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	registry *registry.Registry
	events   EventSink
	metrics  MetricsCollector
}

// Connection is one websocket client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	handler *ConnectionHandler
	logger  zerolog.Logger

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024, // join frames carry the vehicle config
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin:     OriginChecker(nil),
	}
}

// OriginChecker allows requests whose Origin header is in allowed. An empty
// list or a "*" entry allows every origin. Requests without an Origin header
// come from non-browser clients and are always allowed.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, reg *registry.Registry, events EventSink, metrics MetricsCollector) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:   config,
		registry: reg,
		events:   events,
		metrics:  metrics,
	}
}

// Start blocks until ctx is cancelled and then closes every connection
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	<-ctx.Done()
	log.Info().Msg("connection manager shutting down")
	cm.closeAll()
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its pumps
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	id := uuid.New().String()
	connection := &Connection{
		ID:          id,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		logger:      log.With().Str("connection_id", id).Logger(),
		ConnectedAt: time.Now(),
	}
	connection.handler = NewConnectionHandler(id, cm.registry, cm, cm.events, cm.metrics)

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", id).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

// SendTo queues frame for the connection. It never blocks: a connection whose
// buffer is full is closed and ErrSendBufferFull is returned.
func (cm *ConnectionManager) SendTo(connectionID string, frame []byte) error {
	cm.mu.RLock()
	conn, ok := cm.connections[connectionID]
	if !ok {
		cm.mu.RUnlock()
		return ErrConnectionClosed
	}
	// Send is only closed under the write lock, so this cannot race a close.
	select {
	case conn.Send <- frame:
		cm.mu.RUnlock()
		return nil
	default:
	}
	cm.mu.RUnlock()

	conn.logger.Warn().Int("buffer", cap(conn.Send)).Msg("send buffer full, dropping connection")
	cm.unregisterConnection(conn)
	conn.Conn.Close()
	return ErrSendBufferFull
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if current, exists := cm.connections[conn.ID]; exists && current == conn {
		delete(cm.connections, conn.ID)
		close(conn.Send)

		conn.logger.Info().
			Dur("connected_for", time.Since(conn.ConnectedAt)).
			Int("remaining_connections", len(cm.connections)).
			Msg("connection unregistered")
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.Conn.Close()
	}
}

// Count returns the number of open connections
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	total := len(cm.connections)
	handlers := make([]*ConnectionHandler, 0, total)
	for _, c := range cm.connections {
		handlers = append(handlers, c.handler)
	}
	cm.mu.RUnlock()

	joined := 0
	for _, h := range handlers {
		if state, _ := h.State(); state == StateJoined {
			joined++
		}
	}

	return map[string]interface{}{
		"total_connections":  total,
		"joined_connections": joined,
		"rooms":              cm.registry.Stats(),
	}
}

// writeFrame writes one frame under the configured write deadline
func (c *Connection) writeFrame(messageType int, data []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
	return c.Conn.WriteMessage(messageType, data)
}

// writePump owns all writes to the socket. It stops when Send is closed by
// unregisterConnection or a write fails.
func (c *Connection) writePump() {
	keepalive := time.NewTicker(c.Manager.config.PingInterval)
	defer keepalive.Stop()

	err := c.drainSend(keepalive.C)
	if err != nil {
		c.logger.Debug().Err(err).Msg("write loop stopped")
	}
	// readPump notices the closed socket and runs the disconnect path.
	c.Conn.Close()
	c.Manager.unregisterConnection(c)
}

func (c *Connection) drainSend(keepalive <-chan time.Time) error {
	for {
		select {
		case frame, open := <-c.Send:
			if !open {
				closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
				return c.writeFrame(websocket.CloseMessage, closing)
			}
			if err := c.writeFrame(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		case <-keepalive:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// readPump feeds inbound frames to the handler until the socket fails, then
// runs the disconnect path exactly once
func (c *Connection) readPump() {
	cfg := c.Manager.config
	extend := func() { c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)) }

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	extend()
	c.Conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			break
		}
		c.handler.HandleFrame(frame)
		extend()
	}

	c.handler.Disconnect()
	c.Manager.unregisterConnection(c)
	c.Conn.Close()
}
