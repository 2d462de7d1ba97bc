package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultPingInterval is how often the client pings the proxy.
	DefaultPingInterval = 30 * time.Second

	wsHandshakeTimeout = 10 * time.Second
	wsWriteWait        = 10 * time.Second
	wsMaxMessageSize   = 64 * 1024
)

// subscribeRequest asks the proxy to stream BLE advertisements.
type subscribeRequest struct {
	ID       int    `json:"id"`
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
}

// WebSocketClient streams advertisements from a proxy's WebSocket endpoint.
type WebSocketClient struct {
	url          string
	password     string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	logger       Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketClient creates a client for ws://host:port/path. password is
// sent with the subscribe request when non-empty.
func NewWebSocketClient(host string, port int, path, password string) *WebSocketClient {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}
	return &WebSocketClient{
		url:          u.String(),
		password:     password,
		pingInterval: DefaultPingInterval,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: wsHandshakeTimeout,
		},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *WebSocketClient) SetLogger(logger Logger) {
	c.logger = logger
}

// URL returns the endpoint URL.
func (c *WebSocketClient) URL() string {
	return c.url
}

// Connect dials the proxy and sends the subscribe request.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", ErrTransport, c.url, err)
	}
	conn.SetReadLimit(wsMaxMessageSize)

	req := subscribeRequest{ID: 1, Type: "subscribe_bluetooth_le_advertisements", Password: c.password}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("%w: subscribing: %w", ErrTransport, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Subscribe reads frames until the connection fails or ctx is cancelled.
// Undecodable frames are logged and skipped.
func (c *WebSocketClient) Subscribe(ctx context.Context, handle func(Advertisement)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrTransport)
	}

	readWait := c.pingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(ctx, conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: reading: %w", ErrTransport, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		adv, ok, err := decodeFrame(data)
		if err != nil {
			c.logger.Debug("skipping proxy frame", "url", c.url, "error", err)
			continue
		}
		if ok {
			handle(adv)
		}
	}
}

// keepalive pings the proxy and closes the connection on cancellation so
// a blocked read returns.
func (c *WebSocketClient) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.logger.Debug("proxy ping failed", "url", c.url, "error", err)
				conn.Close()
				return
			}
		}
	}
}

// Disconnect closes the connection. It is safe to call repeatedly.
func (c *WebSocketClient) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
