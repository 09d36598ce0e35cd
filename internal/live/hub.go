package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mkarlsen/shipwatch/internal/domain"
)

// Message is the frame pushed to WebSocket subscribers.
type Message struct {
	Type    string      `json:"type"` // "position", "error"
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type client struct {
	conn        *websocket.Conn
	transportID domain.TransportID
	send        chan []byte
}

// Hub groups WebSocket clients by the transport they watch.
type Hub struct {
	mu       sync.RWMutex
	clients  map[domain.TransportID]map[*client]bool
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[domain.TransportID]map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the connection and pumps messages until the peer goes
// away. The transport ID comes from the route.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, id domain.TransportID) {
	if id == "" {
		http.Error(w, "transport_id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, transportID: id, send: make(chan []byte, 256)}
	h.register(c)
	defer h.unregister(c)

	slog.Info("client connected", "transport_id", id, "remote", r.RemoteAddr)

	// Write pump.
	go func() {
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Read pump, for close detection only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.transportID] == nil {
		h.clients[c.transportID] = make(map[*client]bool)
	}
	h.clients[c.transportID][c] = true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[c.transportID]; ok {
		if clients[c] {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.clients, c.transportID)
		}
	}
	slog.Info("client disconnected", "transport_id", c.transportID)
}

// Broadcast pushes a message to every client watching the transport. A
// client with a full buffer is skipped rather than blocking the rest.
func (h *Hub) Broadcast(id domain.TransportID, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	clients := h.clients[id]
	h.mu.RUnlock()

	for c := range clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("client buffer full", "transport_id", id)
		}
	}
}

// CloseAll drops every connection, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for c := range clients {
			close(c.send)
			c.conn.Close()
		}
	}
	h.clients = make(map[domain.TransportID]map[*client]bool)
}
