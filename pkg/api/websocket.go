package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/proxyoor/pkg/auth"
	"github.com/ethpandaops/proxyoor/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// createUpgrader creates a WebSocket upgrader with origin validation.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// If no origins configured, reject all cross-origin requests.
			if len(allowedOrigins) == 0 {
				return r.Header.Get("Origin") == ""
			}

			if allowAll {
				return true
			}

			return originSet[r.Header.Get("Origin")]
		},
	}
}

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Server -> Client messages.
	MessageTypeTelemetry MessageType = "telemetry"
	MessageTypePong      MessageType = "pong"
	MessageTypeError     MessageType = "error"

	// Client -> Server messages.
	MessageTypePing MessageType = "ping"
)

// Message represents a WebSocket message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// Hub maintains the set of active clients and streams request telemetry to
// them. It implements telemetry.Sink so the telemetry service can fan events
// straight into connected sockets.
type Hub struct {
	log logrus.FieldLogger

	// Registered clients.
	clients map[*Client]bool

	// Register requests from clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Broadcast messages to all clients.
	broadcast chan *Message

	mu sync.RWMutex
}

// Ensure Hub implements telemetry.Sink.
var _ telemetry.Sink = (*Hub)(nil)

// NewHub creates a new WebSocket hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:        log.WithField("component", "websocket"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting WebSocket hub")

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Stopping WebSocket hub")

			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			h.log.WithField("client", client.id).Debug("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()

			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

			h.mu.Unlock()

			h.log.WithField("client", client.id).Debug("Client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()

			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}

			h.mu.Unlock()
		}
	}
}

// Consume broadcasts a telemetry event to all connected clients. Satisfies
// telemetry.Sink; called from the telemetry service's emit loop.
func (h *Hub) Consume(event telemetry.Event) {
	h.Broadcast(&Message{
		Type:    MessageTypeTelemetry,
		Payload: event,
	})
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg *Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("Broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Client represents a WebSocket client connection.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	identity *auth.Identity
	send     chan *Message
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn, identity *auth.Identity, id string) *Client {
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		identity: identity,
		send:     make(chan *Message, 256),
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("WebSocket read error")
			}

			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.WithError(err).Warn("Failed to parse WebSocket message")

			continue
		}

		c.handleMessage(&msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.log.WithError(err).Warn("Failed to marshal WebSocket message")

				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming messages from the client.
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypePing:
		c.send <- &Message{Type: MessageTypePong, Payload: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}}

	default:
		c.hub.log.WithField("type", msg.Type).Warn("Unknown message type")
	}
}

// ServeWs handles WebSocket requests from the peer. The telemetry stream
// requires an authenticated caller; a bearer token may be supplied via the
// "token" query parameter for browser clients that cannot set headers.
func ServeWs(hub *Hub, authn auth.Authenticator, allowedOrigins []string, w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("token"); token != "" && r.Header.Get(auth.HeaderAuthorization) == "" {
		r.Header.Set(auth.HeaderAuthorization, "Bearer "+token)
	}

	identity, err := authn.Authenticate(r)
	if err != nil || identity == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)

		return
	}

	upgrader := createUpgrader(allowedOrigins)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Error("Failed to upgrade WebSocket")

		return
	}

	client := NewClient(hub, conn, identity, uuid.New().String())
	hub.register <- client

	// Start pumps.
	go client.WritePump()
	go client.ReadPump()
}
