package viewer

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"deskshare/pkg/blockstream"
	"deskshare/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	DefaultQueueSize = 256
)

// Store is the room state the hub keeps viewers consistent with.
type Store interface {
	// Apply folds an event into room state; false drops it.
	Apply(blockstream.Event) bool
	// SnapshotEvents returns the events that bring a new viewer up to date.
	SnapshotEvents(room string) []blockstream.Event
}

// Hub fans decoded events out to the WebSocket viewers of each room.
type Hub struct {
	store     Store
	rooms     map[string]map[*client]struct{}
	mu        sync.Mutex
	queueSize int
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
}

func NewHub(store Store, queueSize int, m *metrics.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		store:     store,
		rooms:     make(map[string]map[*client]struct{}),
		queueSize: queueSize,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Dispatch applies e to the store and broadcasts it to the room's viewers.
// Both happen under the hub lock so a viewer joining concurrently sees the
// event either in its snapshot or as a live message, never both.
func (h *Hub) Dispatch(e blockstream.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.store.Apply(e) {
		return
	}

	viewers := h.rooms[e.RoomID()]
	if len(viewers) == 0 {
		return
	}

	msg, err := encodeEvent(e)
	if err != nil {
		slog.Error("Failed to encode event for viewers", "room", e.RoomID(), "err", err)
		return
	}
	for c := range viewers {
		h.enqueue(c, msg)
	}
}

// ServeWS upgrades the request and streams room events until the viewer
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, room string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "room", room, "err", err)
		return
	}

	c := h.join(conn, room)
	go c.writePump()
	c.readPump()
}

// ViewerCount returns the number of viewers of room.
func (h *Hub) ViewerCount(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, viewers := range h.rooms {
		for c := range viewers {
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) join(conn *websocket.Conn, room string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	primer := h.store.SnapshotEvents(room)
	c := &client{
		hub:  h,
		conn: conn,
		room: room,
		send: make(chan []byte, h.queueSize+len(primer)),
	}

	for _, e := range primer {
		msg, err := encodeEvent(e)
		if err != nil {
			slog.Error("Failed to encode snapshot event", "room", room, "err", err)
			continue
		}
		c.send <- msg
	}

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.metrics.ViewerJoined()
	slog.Info("Viewer joined", "room", room, "remoteAddr", conn.RemoteAddr().String(), "snapshotEvents", len(primer), "viewerCount", len(h.rooms[room]))
	return c
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	viewers := h.rooms[c.room]
	if _, ok := viewers[c]; !ok {
		return
	}
	delete(viewers, c)
	if len(viewers) == 0 {
		delete(h.rooms, c.room)
	}
	close(c.send)
	h.metrics.ViewerLeft()
	slog.Info("Viewer left", "room", c.room, "viewerCount", len(viewers))
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.metrics.ViewerDropped()
		slog.Warn("Viewer queue full, dropping message", "room", c.room)
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	room string
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Viewers have nothing to say; reading keeps control frames flowing.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
