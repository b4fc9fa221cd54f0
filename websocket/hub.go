package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is pushed to every connection a user has open whenever one of their
// sessions changes.
type Event struct {
	Type      string                 `json:"type"` // "session.created", "session.status", "session.deleted", "desktop.connected", "credits.updated"
	SessionID string                 `json:"session_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type userMessage struct {
	userID  string
	payload []byte
}

type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	send       chan userMessage
	done       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
	ConnID string
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		send:       make(chan userMessage, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			h.mu.Unlock()
			slog.Info("Client registered", "user_id", client.UserID, "conn_id", client.ConnID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			slog.Info("Client unregistered", "user_id", client.UserID, "conn_id", client.ConnID)

		case msg := <-h.send:
			h.mu.Lock()
			for client := range h.clients[msg.userID] {
				select {
				case client.Send <- msg.payload:
				default:
					slog.Warn("Dropping slow websocket client", "user_id", client.UserID, "conn_id", client.ConnID)
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

// Stop ends Run. Connected clients are left to their pumps.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) removeLocked(client *Client) {
	conns, ok := h.clients[client.UserID]
	if !ok || !conns[client] {
		return
	}
	delete(conns, client)
	close(client.Send)
	if len(conns) == 0 {
		delete(h.clients, client.UserID)
	}
}

// ClientCount returns the number of open connections for userID.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	client := &Client{
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, 64),
		UserID: userID,
		ConnID: uuid.New().String(),
	}

	select {
	case h.register <- client:
	case <-h.done:
	}
	return client
}

// Unregister removes client. After Stop it returns without waiting for Run.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToUser queues event for all of userID's connections. It never blocks;
// events are dropped when the hub is saturated.
func (h *Hub) SendToUser(userID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err, "type", event.Type)
		return
	}

	select {
	case h.send <- userMessage{userID: userID, payload: payload}:
	default:
		slog.Warn("Event queue full, dropping event", "user_id", userID, "type", event.Type)
	}
}

// ReadPump only services control frames; clients do not send commands.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err, "user_id", c.UserID)
			}
			break
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
