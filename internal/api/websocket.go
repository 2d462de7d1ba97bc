package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/ble-scanner/internal/device"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/logging"
)

// Frame types. Device events use the registry event type instead
// ("device.created", "device.updated", "device.removed", "devices.cleared").
const (
	WSTypeSnapshot    = "devices.snapshot"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	defaultWSPath           = "/api/ws"
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second

	wsSendBufferSize = 256
	hubQueueSize     = 1024
)

// WSMessage is one frame in either direction.
type WSMessage struct {
	Type      string           `json:"type"`
	ID        string           `json:"id,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Device    *device.Device   `json:"device,omitempty"`
	Devices   []*device.Device `json:"devices,omitempty"`
	MACs      []string         `json:"macs,omitempty"`
	Payload   any              `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Events []string `json:"events"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy is left to the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub streams registry events to WebSocket clients.
//
// The client set is owned by the Run goroutine; HandleEvent only enqueues,
// so the registry is never held up by a slow or dead connection. New
// clients first receive a snapshot of every known device.
type Hub struct {
	maxMessage   int64
	pingInterval time.Duration
	pongWait     time.Duration

	logger   *logging.Logger
	snapshot func() []*device.Device

	events chan WSMessage
	join   chan membership
	leave  chan membership
	done   chan struct{}

	running atomic.Bool
	clients map[*wsClient]struct{}
	count   atomic.Int64
	dropped atomic.Uint64
}

// membership is a join or leave request, acknowledged by closing ack.
type membership struct {
	client *wsClient
	ack    chan struct{}
}

// NewHub creates a hub. Zero config values take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		maxMessage:   defaultWSMaxMessageSize,
		pingInterval: defaultWSPingInterval,
		pongWait:     defaultWSPongTimeout,
		logger:       logger,
		events:       make(chan WSMessage, hubQueueSize),
		join:         make(chan membership),
		leave:        make(chan membership),
		done:         make(chan struct{}),
		clients:      make(map[*wsClient]struct{}),
	}
	if cfg.MaxMessageSize > 0 {
		h.maxMessage = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		h.pingInterval = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		h.pongWait = time.Duration(cfg.PongTimeout) * time.Second
	}
	return h
}

// SetSnapshot sets the source of the initial devices.snapshot frame.
func (h *Hub) SetSnapshot(fn func() []*device.Device) {
	h.snapshot = fn
}

// Run owns the client set until ctx is cancelled, then disconnects every
// client. Calls after the first return immediately.
func (h *Hub) Run(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case m := <-h.join:
			h.clients[m.client] = struct{}{}
			h.count.Add(1)
			close(m.ack)
			h.logger.Debug("websocket client connected", "clients", h.count.Load())

		case m := <-h.leave:
			if _, ok := h.clients[m.client]; ok {
				h.drop(m.client)
				h.logger.Debug("websocket client disconnected", "clients", h.count.Load())
			}
			close(m.ack)

		case msg := <-h.events:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal websocket frame", "type", msg.Type, "error", err)
		return
	}
	for c := range h.clients {
		if c.wants(msg.Type) {
			c.offer(data)
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	delete(h.clients, c)
	h.count.Add(-1)
	c.close()
}

// register adds c. It returns false once the hub has stopped.
func (h *Hub) register(c *wsClient) bool {
	return h.request(h.join, c)
}

// unregister removes c. Removing an unknown client is a no-op.
func (h *Hub) unregister(c *wsClient) {
	h.request(h.leave, c)
}

func (h *Hub) request(ch chan membership, c *wsClient) bool {
	m := membership{client: c, ack: make(chan struct{})}
	select {
	case ch <- m:
		<-m.ack
		return true
	case <-h.done:
		return false
	}
}

// HandleEvent is a device.Listener. Events beyond the queue are dropped.
func (h *Hub) HandleEvent(ev device.Event) {
	h.Broadcast(WSMessage{
		Type:   string(ev.Type),
		Device: ev.Device,
		MACs:   ev.MACs,
	})
}

// Broadcast queues msg for every client whose filter accepts msg.Type.
func (h *Hub) Broadcast(msg WSMessage) {
	if msg.Timestamp == "" {
		msg.Timestamp = timestamp()
	}
	select {
	case h.events <- msg:
	default:
		if h.dropped.Add(1) == 1 {
			h.logger.Warn("websocket queue full, dropping events")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Dropped returns how many events were discarded on a full queue.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// wsClient is one connection. An empty filter accepts every event type.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	filter map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		filter: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the request to a device event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn)
	if s.hub.snapshot != nil {
		c.reply(WSMessage{Type: WSTypeSnapshot, Devices: s.hub.snapshot()})
	}
	if !s.hub.register(c) {
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

// offer queues data without blocking. A full buffer loses the frame.
func (c *wsClient) offer(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *wsClient) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[eventType]
	return ok
}

func (c *wsClient) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	deadline := func() time.Time { return time.Now().Add(c.hub.pingInterval + c.hub.pongWait) }

	c.conn.SetReadLimit(c.hub.maxMessage)
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(deadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(deadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(deadline())
		c.handle(data)
	}
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			//nolint:errcheck // write errors are caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
			if !ok {
				//nolint:errcheck // best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // write errors are caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle answers one client frame.
func (c *wsClient) handle(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: msg.ID})
	case WSTypeSubscribe:
		c.setFilter(msg.Payload.Events, true)
		c.reply(WSMessage{Type: WSTypeResponse, ID: msg.ID, Payload: map[string]any{"subscribed": msg.Payload.Events}})
	case WSTypeUnsubscribe:
		c.setFilter(msg.Payload.Events, false)
		c.reply(WSMessage{Type: WSTypeResponse, ID: msg.ID, Payload: map[string]any{"unsubscribed": msg.Payload.Events}})
	default:
		c.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *wsClient) setFilter(events []string, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		if add {
			c.filter[ev] = struct{}{}
		} else {
			delete(c.filter, ev)
		}
	}
}

func (c *wsClient) reply(msg WSMessage) {
	msg.Timestamp = timestamp()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.offer(data)
}

func (c *wsClient) replyError(id, message string) {
	c.reply(WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": message}})
}
