package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"chatcore/internal/domain"
)

// Envelope is the wire format for every server-pushed event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn wraps a websocket connection with a write lock. The drain worker
// and request handlers push to the same connection from different
// goroutines, and gorilla/websocket forbids concurrent writers; every
// write must go through WriteJSON here.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteJSON sends one JSON message, serializing writers.
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Hub manages active WebSocket connections keyed by user ID. A user may
// hold several connections at once (multiple tabs or devices); pushes go
// to all of them.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[int64]map[*Conn]struct{}),
	}
}

var _ domain.Broadcaster = (*Hub)(nil)

// Register adds a connection for the given user.
func (h *Hub) Register(userID int64, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

// Unregister removes a connection for the given user.
func (h *Hub) Unregister(userID int64, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

// PushToUser sends an event to every open connection of the given user.
// A user with no connections is not an error. Connections that fail to
// write are closed; removal happens on the next Register/Unregister.
func (h *Hub) PushToUser(userID int64, event string, payload any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.conns[userID]
	if !ok {
		return nil
	}
	env := Envelope{Event: event, Data: payload}
	for conn := range conns {
		if err := conn.WriteJSON(env); err != nil {
			conn.Close()
		}
	}
	return nil
}

// Connected reports whether the user has at least one open connection.
func (h *Hub) Connected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}
