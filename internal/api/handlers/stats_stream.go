package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/cachemanager/internal/apierr"
	"github.com/onnwee/cachemanager/internal/cache"
	"github.com/onnwee/cachemanager/internal/logger"
	"github.com/onnwee/cachemanager/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	defaultStatsInterval = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS middleware
		return true
	},
}

// StatsSource yields cache statistics snapshots.
type StatsSource interface {
	GetStats() cache.Stats
}

// StreamMessage is the envelope pushed to stream clients.
type StreamMessage struct {
	Type      string      `json:"type"` // "stats"
	Timestamp time.Time   `json:"timestamp"`
	Payload   cache.Stats `json:"payload"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and pushes stats snapshots to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	source   StatsSource
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
}

// NewHub creates a new stats hub.
func NewHub(src StatsSource, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     src,
		interval:   interval,
		stop:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.closeAll()

	var last cache.Stats
	for {
		select {
		case <-ctx.Done():
			return

		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketConnections.Inc()
			logger.Info("Stats stream client connected", "total_clients", n)

		case client := <-h.unregister:
			h.drop(client)

		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			stats := h.source.GetStats()
			if stats == last {
				continue
			}
			last = stats
			h.broadcast(snapshot(stats))
		}
	}
}

func snapshot(stats cache.Stats) []byte {
	data, err := json.Marshal(StreamMessage{Type: "stats", Timestamp: time.Now().UTC(), Payload: stats})
	if err != nil {
		logger.Error("Failed to marshal stats snapshot", "error", err)
		return nil
	}
	return data
}

func (h *Hub) broadcast(message []byte) {
	if message == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for client := range h.clients {
		select {
		case client.send <- message:
			sent++
		default:
			// Slow consumer; drop it rather than stall the hub
			close(client.send)
			delete(h.clients, client)
			metrics.WebSocketConnections.Dec()
		}
	}
	metrics.WebSocketMessagesSent.Add(float64(sent))
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.WebSocketConnections.Dec()
		logger.Info("Stats stream client disconnected", "total_clients", len(h.clients))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WebSocketConnections.Dec()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop ends Run and disconnects every client. Safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// readPump drains the connection so pongs and close frames are processed.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Stats stream unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// StatsStreamHandler upgrades requests to a stats stream.
type StatsStreamHandler struct {
	hub    *Hub
	cancel context.CancelFunc
}

// NewStatsStreamHandler starts a hub pushing snapshots of src every interval.
func NewStatsStreamHandler(src StatsSource, interval time.Duration) *StatsStreamHandler {
	hub := NewHub(src, interval)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return &StatsStreamHandler{hub: hub, cancel: cancel}
}

// Close stops the hub and disconnects every client.
func (h *StatsStreamHandler) Close() {
	h.hub.Stop()
	h.cancel()
}

// HandleWebSocket handles the upgrade and sends an initial snapshot.
// GET /api/cache/stats/stream
func (h *StatsStreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		logger.WarnContext(r.Context(), "Failed to upgrade stats stream", "error", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 16),
	}
	// Queue the first snapshot before the hub can close the channel.
	if data := snapshot(h.hub.source.GetStats()); data != nil {
		client.send <- data
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// GetHub returns the hub for tests and shutdown.
func (h *StatsStreamHandler) GetHub() *Hub {
	return h.hub
}

// Unavailable answers cache routes when no cache manager is wired.
func Unavailable(w http.ResponseWriter, r *http.Request) {
	apierr.WriteErrorWithContext(w, r, apierr.CacheUnavailable())
}
