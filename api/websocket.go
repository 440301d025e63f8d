package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/seenimoa/papertrader/internal/ledger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the REST routes only
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	clientBuffer    = 256
	broadcastBuffer = 1024
)

// WSMessage is a message sent over WebSocket connections. Ledger events
// use the event type ("order", "trade", "position", "account") and carry
// the event payload in Data.
type WSMessage struct {
	Type string `json:"type"`
	Time string `json:"time,omitempty"`
	Data any    `json:"data,omitempty"`
}

// ════════════════════════════════════════════════════════════════════
// Hub
// ════════════════════════════════════════════════════════════════════

// Hub fans ledger events out to WebSocket clients. It implements
// ledger.Observer; OnEvent never blocks.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan WSMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	running    atomic.Bool
	dropped    atomic.Int64
}

var _ ledger.Observer = (*Hub)(nil)

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan WSMessage, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns when ctx is done, disconnecting
// every client. A hub runs at most once.
func (h *Hub) Run(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "client_id", c.id)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "client_id", c.id)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// fanOut delivers msg to every interested client. Clients whose buffer
// is full are disconnected.
func (h *Hub) fanOut(msg WSMessage) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(msg.Type) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if h.clients[c] {
			delete(h.clients, c)
			c.close()
			h.logger.Warn("slow websocket client disconnected", "client_id", c.id)
		}
	}
	h.mu.Unlock()
}

// OnEvent broadcasts a ledger event.
func (h *Hub) OnEvent(ev ledger.Event) {
	h.Broadcast(WSMessage{
		Type: string(ev.Type),
		Time: ev.Time.Format(time.RFC3339Nano),
		Data: eventPayload(ev),
	})
}

func eventPayload(ev ledger.Event) any {
	switch ev.Type {
	case ledger.EventOrder:
		return ev.Order
	case ledger.EventTrade:
		return ev.Trade
	case ledger.EventPosition:
		return ev.Position
	case ledger.EventAccount:
		return ev.Account
	}
	return nil
}

// Broadcast queues msg for all clients. The message is dropped when the
// broadcast queue is full.
func (h *Hub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		if n := h.dropped.Add(1); n == 1 || n%1000 == 0 {
			h.logger.Warn("websocket broadcast queue full, dropping", "dropped", n)
		}
	}
}

// Dropped returns the number of broadcasts lost to a full queue.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub. It reports false once the hub has
// stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ════════════════════════════════════════════════════════════════════
// Client
// ════════════════════════════════════════════════════════════════════

// Client is a single WebSocket connection. The send channel is never
// closed; quit signals the write pump to stop.
type Client struct {
	id   string
	send chan WSMessage
	quit chan struct{}
	once sync.Once

	mu     sync.RWMutex
	topics map[string]bool // empty: all event types
}

func newClient() *Client {
	return &Client{
		id:     uuid.NewString(),
		send:   make(chan WSMessage, clientBuffer),
		quit:   make(chan struct{}),
		topics: make(map[string]bool),
	}
}

// ID returns the client's connection id.
func (c *Client) ID() string { return c.id }

func (c *Client) close() {
	c.once.Do(func() { close(c.quit) })
}

func (c *Client) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics) == 0 || c.topics[topic]
}

func (c *Client) subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = make(map[string]bool, len(topics))
	for _, t := range topics {
		c.topics[t] = true
	}
}

// reply queues a direct response, dropping it if the buffer is full or
// the client is closing.
func (c *Client) reply(msg WSMessage) {
	select {
	case <-c.quit:
	case c.send <- msg:
	default:
	}
}

// ════════════════════════════════════════════════════════════════════
// Pumps
// ════════════════════════════════════════════════════════════════════

// handleWebSocket upgrades HTTP connections to WebSocket and streams
// ledger events to the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient()
	if !s.hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	client.reply(WSMessage{Type: "welcome", Data: map[string]string{"client_id": client.id}})

	go wsWritePump(conn, client)
	go wsReadPump(conn, client, s)
}

// clientRequest is a control message from the client.
//
//	{"type":"subscribe","topics":["order","trade"]}
//	{"type":"ping"}
type clientRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
}

// wsReadPump reads control messages until the connection fails.
func wsReadPump(conn *websocket.Conn, client *Client, s *Server) {
	defer func() {
		s.hub.Unregister(client)
		client.close()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "client_id", client.id, "error", err)
			}
			return
		}

		var req clientRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.reply(WSMessage{Type: "error", Data: "invalid message"})
			continue
		}

		switch req.Type {
		case "subscribe":
			client.subscribe(req.Topics)
			client.reply(WSMessage{Type: "subscribed", Data: req.Topics})
		case "snapshot":
			client.reply(WSMessage{Type: "account", Data: s.ledger.Account()})
		case "ping":
			client.reply(WSMessage{Type: "pong"})
		default:
			client.reply(WSMessage{Type: "error", Data: "unknown message type " + req.Type})
		}
	}
}

// wsWritePump writes queued messages and keepalive pings.
func wsWritePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-client.quit:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
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
