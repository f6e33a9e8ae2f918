package api

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Connection limits for dashboard clients.
const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxReadSize   = 1024 // dashboard clients never send payloads
	clientBacklog = 64
)

// Hub fans engine events out to every connected dashboard client. All client
// bookkeeping happens on the Run goroutine; the only cross-goroutine surface
// is the three channels.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan DashboardEvent
	logger     *slog.Logger
}

// NewHub creates the fan-out hub for dashboard events.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan DashboardEvent, 256),
		logger:     logger.With("component", "ws-hub"),
	}
}

// Run owns the client set: connects, disconnects, and event fan-out.
// Call in a goroutine; it runs for the life of the server.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Info("dashboard client connected", "count", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.logger.Info("dashboard client disconnected", "count", len(h.clients))

		case evt := <-h.events:
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("failed to marshal event", "error", err, "type", evt.Type)
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Slow consumer: drop the connection, not the loop
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// BroadcastEvent queues an event for fan-out without blocking the caller.
// A dropped event is superseded by the next snapshot.
func (h *Hub) BroadcastEvent(evt DashboardEvent) {
	select {
	case h.events <- evt:
	default:
		h.logger.Warn("event queue full, dropping event", "type", evt.Type)
	}
}

// Client is one dashboard WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient registers the connection with the hub and starts its read and
// write pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{hub: hub, conn: conn, send: make(chan []byte, clientBacklog)}
	hub.register <- c
	go c.writePump()
	go c.readPump()
	return c
}

// writePump drains send onto the wire and keeps the connection alive with
// pings. A closed send channel means the hub dropped this client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames (the dashboard is read-only) and tears
// the client down when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read failed", "error", err)
			}
			return
		}
	}
}
