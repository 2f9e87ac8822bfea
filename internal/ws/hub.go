package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"memorylane/internal/backend"
	"memorylane/internal/models"
	"memorylane/internal/observability"
)

const writeWait = 10 * time.Second

// Querier loads the current records of a view.
type Querier interface {
	Query(ctx context.Context, kind models.Kind, filter string) ([]json.RawMessage, error)
}

type roomKey struct {
	kind   models.Kind
	filter string
}

// client serializes writes to one connection. sent is the sequence of the
// newest snapshot written; older snapshots are dropped.
type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
	sent uint64
}

// encodedFrame is a marshalled frame; seq is taken before its query ran.
type encodedFrame struct {
	seq     uint64
	payload []byte
}

// Hub maintains one room per subscribed view and pushes full snapshots to it.
type Hub struct {
	querier Querier
	rooms   map[roomKey]map[*websocket.Conn]*client
	mu      sync.RWMutex
	seq     atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(querier Querier) *Hub {
	return &Hub{
		querier: querier,
		rooms:   make(map[roomKey]map[*websocket.Conn]*client),
	}
}

// AddClient registers a websocket connection to the room of its view.
func (h *Hub) AddClient(conn *websocket.Conn, info ConnInfo) {
	h.add(conn, info)
}

// Join registers conn and sends it the current snapshot of its view. A push
// that queried later and reached conn first wins over the initial snapshot.
func (h *Hub) Join(ctx context.Context, conn *websocket.Conn, info ConnInfo) {
	c := h.add(conn, info)
	h.write(ctx, c, h.snapshot(ctx, info.Kind, info.Filter))
}

func (h *Hub) add(conn *websocket.Conn, info ConnInfo) *client {
	key := roomKey{kind: info.Kind, filter: info.Filter}
	c := &client{conn: conn, info: info}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[key]; !ok {
		h.rooms[key] = make(map[*websocket.Conn]*client)
	}
	h.rooms[key][conn] = c
	return c
}

// RemoveClient removes a websocket connection. Removing twice is a no-op.
func (h *Hub) RemoveClient(kind models.Kind, filter string, conn *websocket.Conn) bool {
	key := roomKey{kind: kind, filter: filter}
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[key]
	if !ok {
		return false
	}
	if _, ok := conns[conn]; !ok {
		return false
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.rooms, key)
	}
	return true
}

// Rooms returns the number of views with at least one connection.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Refresh re-queries every room reading from collection and pushes the new
// snapshot. An empty collection refreshes every room.
func (h *Hub) Refresh(ctx context.Context, collection string) {
	h.mu.RLock()
	keys := make([]roomKey, 0, len(h.rooms))
	for key := range h.rooms {
		if collection == "" || key.kind.Collection() == collection {
			keys = append(keys, key)
		}
	}
	h.mu.RUnlock()

	for _, key := range keys {
		h.Push(ctx, key.kind, key.filter)
	}
}

// Push sends the current snapshot of one view to all of its connections.
func (h *Hub) Push(ctx context.Context, kind models.Kind, filter string) {
	key := roomKey{kind: kind, filter: filter}
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[key]))
	for _, c := range h.rooms[key] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	snap := h.snapshot(ctx, kind, filter)
	for _, c := range clients {
		h.write(ctx, c, snap)
	}
}

func (h *Hub) snapshot(ctx context.Context, kind models.Kind, filter string) encodedFrame {
	seq := h.seq.Add(1)
	frame := backend.Frame{Kind: kind, Filter: filter}
	records, err := h.querier.Query(ctx, kind, filter)
	if err != nil {
		log.Printf("snapshot query failed kind=%s filter=%s: %v", kind, filter, err)
		frame.Error = "snapshot unavailable"
	} else {
		frame.Records = records
		if frame.Records == nil {
			frame.Records = []json.RawMessage{}
		}
	}
	payload, _ := json.Marshal(frame)
	return encodedFrame{seq: seq, payload: payload}
}

func (h *Hub) write(ctx context.Context, c *client, snap encodedFrame) {
	c.mu.Lock()
	if snap.seq <= c.sent {
		c.mu.Unlock()
		return
	}
	c.sent = snap.seq
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.TextMessage, snap.payload)
	c.mu.Unlock()
	if err != nil {
		log.Printf("websocket write error: %v", err)
		c.conn.Close()
		if h.RemoveClient(c.info.Kind, c.info.Filter, c.conn) {
			observability.DecWSActive(string(c.info.Kind))
		}
		observability.IncWSEvent(string(c.info.Kind), "ws_error")
		publishWSEvent(ctx, c.info, "ws_error", err.Error())
		return
	}
	observability.IncSnapshotPushed(string(c.info.Kind))
}
