// Package realtime pushes transient events to connected WebSocket clients.
// Each client joins a room named after its own account id; events emitted
// to a room reach every socket currently joined to it. Delivery is
// best-effort: events for absent or slow clients are dropped.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

const (
	EventJoin   = "join"
	EventJoined = "joined"
	EventError  = "error"
)

// Frame is the JSON envelope of every message on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Authenticator resolves a bearer token to an account id.
type Authenticator func(token string) (string, error)

// Hub tracks connected clients and the rooms they joined.
type Hub struct {
	authenticate Authenticator
	upgrader     websocket.Upgrader

	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}
}

// NewHub creates a hub. An origins list containing "*" accepts any origin.
func NewHub(authenticate Authenticator, origins []string) *Hub {
	h := &Hub{
		authenticate: authenticate,
		rooms:        make(map[string]map[*client]struct{}),
		clients:      make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
	return h
}

// ServeHTTP authenticates the ?token= query parameter and upgrades the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.authenticate(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, `{"detail":"Invalid or expired token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		accountID: accountID,
		send:      make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Debug("websocket connected", "account_id", accountID)

	go c.writePump()
	go c.readPump()
}

// Emit sends an event to every client joined to room. It never blocks.
func (h *Hub) Emit(room, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode event", "event", event, "error", err)
		return
	}
	msg, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		slog.Error("failed to encode frame", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		select {
		case c.send <- msg:
		default:
			slog.Warn("dropping event for slow client", "room", room, "event", event)
		}
	}
}

// RoomSize returns the number of sockets joined to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms = append(c.rooms, room)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for _, room := range c.rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	close(c.send)
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	accountID string
	send      chan []byte
	rooms     []string // guarded by hub.mu
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		slog.Debug("websocket disconnected", "account_id", c.accountID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "account_id", c.accountID, "error", err)
			}
			return
		}
		c.handle(f)
	}
}

func (c *client) handle(f Frame) {
	switch f.Event {
	case EventJoin:
		var room string
		if err := json.Unmarshal(f.Data, &room); err != nil || room != c.accountID {
			c.reply(EventError, "can only join your own room")
			return
		}
		c.hub.join(c, room)
		c.reply(EventJoined, room)
	default:
		c.reply(EventError, "unknown event")
	}
}

func (c *client) reply(event, data string) {
	raw, _ := json.Marshal(data)
	msg, _ := json.Marshal(Frame{Event: event, Data: raw})

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
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
