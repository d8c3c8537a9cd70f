package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/watchparty-service/internal/coordinator"
	"github.com/skypro1111/watchparty-service/internal/groupsession"
	"github.com/skypro1111/watchparty-service/internal/metrics"
)

// Message types pushed to WebSocket clients
const (
	MsgSnapshot    = "snapshot"
	MsgState       = "state"
	MsgEligibility = "eligibility"
	MsgActivity    = "activity"
)

const writeWait = 10 * time.Second

// WSMessage is the envelope for every pushed update. Payload always carries
// the full snapshot so clients never have to merge deltas.
type WSMessage struct {
	Type      string               `json:"type"`
	Payload   coordinator.Snapshot `json:"payload"`
	Timestamp time.Time            `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn, buffer int) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, buffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// Hub pushes coordinator snapshots to WebSocket clients
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool

	source  Coordinator
	buffer  int
	logger  *slog.Logger
	metrics *metrics.Metrics

	unsubscribe []func()
}

// NewHub subscribes to every observable of source
func NewHub(source Coordinator, buffer int, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if buffer < 1 {
		buffer = 1
	}

	h := &Hub{
		clients: make(map[*client]bool),
		source:  source,
		buffer:  buffer,
		logger:  logger,
		metrics: m,
	}

	h.unsubscribe = []func(){
		source.SubscribeState(func(coordinator.LifecycleState) { h.broadcast(MsgState) }),
		source.SubscribeEligibility(func(bool) { h.broadcast(MsgEligibility) }),
		source.SubscribeActivity(func(*groupsession.Activity) { h.broadcast(MsgActivity) }),
	}

	return h
}

// ServeHTTP upgrades the request and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	c := h.AddClient(conn)
	if c == nil {
		return
	}

	h.logger.Debug("WebSocket client connected", slog.String("remote_addr", r.RemoteAddr))

	go func() {
		defer func() {
			h.RemoveClient(c)
			h.logger.Debug("WebSocket client disconnected", slog.String("remote_addr", r.RemoteAddr))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// AddClient registers conn and queues the current snapshot for it
func (h *Hub) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(c.send)
		return nil
	}
	h.clients[c] = true
	count := len(h.clients)

	// Queued before any broadcast can reach the new client.
	if data, err := h.encode(MsgSnapshot); err == nil {
		c.send <- data
	}
	h.mu.Unlock()

	h.metrics.SetWebSocketClients(count)

	return c
}

// RemoveClient unregisters c and closes its connection
func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.metrics.SetWebSocketClients(count)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the coordinator and disconnects every client
func (h *Hub) Close() {
	for _, cancel := range h.unsubscribe {
		cancel()
	}

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	h.metrics.SetWebSocketClients(0)
}

func (h *Hub) encode(msgType string) ([]byte, error) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		Payload:   h.source.Snapshot(),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("Failed to encode WebSocket message", slog.String("error", err.Error()))
	}
	return data, err
}

// broadcast runs on the coordinator's notification goroutine and must not
// block. Sends happen under the read lock so RemoveClient cannot close a
// channel mid-send.
func (h *Hub) broadcast(msgType string) {
	if h.ClientCount() == 0 {
		return
	}

	data, err := h.encode(msgType)
	if err != nil {
		return
	}

	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("WebSocket client too slow, disconnecting")
		h.RemoveClient(c)
	}
}
