package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/quicktex/internal/build"
	"github.com/conneroisu/quicktex/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Messages queued per client before it is dropped as too slow.
	sendBuffer = 64
)

// BuildMessage is broadcast to viewers after every build.
type BuildMessage struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Script     string    `json:"script"`
	Artifact   string    `json:"artifact,omitempty"`
	Success    bool      `json:"success"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewBuildMessage converts a build result into its wire form.
func NewBuildMessage(result build.Result) BuildMessage {
	msg := BuildMessage{
		Type:       "build",
		ID:         result.ID,
		Script:     result.Script,
		Artifact:   result.Artifact,
		Success:    result.Success(),
		Outcome:    string(result.Outcome()),
		DurationMS: result.Duration.Milliseconds(),
		Timestamp:  time.Now(),
	}
	if result.Err != nil {
		msg.Error = result.Err.Error()
	}
	return msg
}

// Client represents a WebSocket client
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans build messages out to every connected viewer.
type Hub struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *websocket.Conn
	done         chan struct{}
	logger       logging.Logger
}

// NewHub creates a hub. Run must be called before clients are served.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("server"),
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Notify queues result for broadcast. It never blocks the build loop; when
// the queue is full the message is dropped.
func (h *Hub) Notify(result build.Result) {
	data, err := json.Marshal(NewBuildMessage(result))
	if err != nil {
		h.logger.Error(context.Background(), err, "Failed to encode build message", "build_id", result.ID)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(context.Background(), nil, "Broadcast queue full, dropping build message", "build_id", result.ID)
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Info(ctx, "Client connected", "clients", count)

		case conn := <-h.unregister:
			h.clientsMutex.Lock()
			if client, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(client.send)
				h.logger.Info(ctx, "Client disconnected", "clients", len(h.clients))
			}
			h.clientsMutex.Unlock()

		case message := <-h.broadcast:
			h.clientsMutex.Lock()
			for conn, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's send channel is full
					delete(h.clients, conn)
					close(client.send)
					h.logger.Warn(ctx, nil, "Dropping slow client")
				}
			}
			h.clientsMutex.Unlock()
		}
	}
}

// serve registers conn and pumps messages until the peer goes away.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	case <-ctx.Done():
		conn.Close(websocket.StatusGoingAway, "")
		return
	}

	go client.writePump(ctx)
	client.readPump(ctx)
}

func (h *Hub) closeAll() {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	for conn, client := range h.clients {
		delete(h.clients, conn)
		close(client.send)
	}
}

// readPump discards client input and detects disconnects.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c.conn:
		case <-c.hub.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		readCtx, cancel := context.WithTimeout(ctx, pongWait)
		_, _, err := c.conn.Read(readCtx)
		cancel()

		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.hub.logger.Debug(ctx, "WebSocket read ended", "error", err)
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.hub.logger.Debug(ctx, "WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
