// Package realtime pushes server events to connected browser sessions over websockets.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event names pushed to clients.
const (
	EventNewReport           = "new_report"
	EventAppointmentCanceled = "appointment_cancelled"
)

// Message is the frame written to a socket.
type Message struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type client struct {
	room string
	send chan []byte
}

// Hub tracks open sockets by room. Every authenticated socket joins the room named after its account id.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{}
	closed  bool
	logger  *logging.Logger
	now     func() time.Time
	dropped int
}

// NewHub builds an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*client]struct{}),
		logger: logger.Component("realtime"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hub) join(room string) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{room: room, send: make(chan []byte, sendBuffer)}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	return c, true
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
	close(c.send)
}

// Emit sends event to every socket in room. Slow sockets miss the event rather than block the caller.
// It returns the number of sockets the event was queued for.
func (h *Hub) Emit(room, event string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("realtime payload not encodable", "event", event, "error", err)
		return 0
	}
	frame, err := json.Marshal(Message{Event: event, Data: data, Timestamp: h.now()})
	if err != nil {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
			sent++
		default:
			h.dropped++
		}
	}
	if sent > 0 {
		h.logger.Debug("realtime event emitted", "room", room, "event", event, "sockets", sent)
	}
	return sent
}

// RoomSize returns the number of sockets joined to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Dropped reports how many frames were skipped because a socket buffer was full.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close disconnects every socket and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for room, members := range h.rooms {
		for c := range members {
			close(c.send)
		}
		delete(h.rooms, room)
	}
}

// Handler upgrades authenticated requests to websockets.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler binds a websocket endpoint to hub. allowOrigin may be nil to accept every origin.
func NewHandler(hub *Hub, allowOrigin func(origin string) bool) *Handler {
	if hub == nil {
		panic("realtime: hub required")
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin(origin)
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := accounts.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, `{"message":"Not authorized"}`, http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c, ok := h.hub.join(actor.ID)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	h.hub.logger.Info("websocket connected", "room", actor.ID, "role", string(actor.Role))

	go h.writePump(c, conn)
	go h.readPump(c, conn)
}

// readPump only services control frames; clients never send application messages.
func (h *Handler) readPump(c *client, conn *websocket.Conn) {
	defer func() {
		h.hub.leave(c)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(c *client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
