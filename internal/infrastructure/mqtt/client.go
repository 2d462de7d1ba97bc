package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
)

// Logger is the logging the client needs. *logging.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives one inbound message. Handlers run on paho's
// goroutines and must not block; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Client is the scanner's broker connection.
//
// It keeps the availability topic current (retained "online" on every
// connect, "offline" on Close and through the will), restores
// subscriptions after a reconnect, and never gives up reconnecting.
// All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	broker string
	qos    byte
	topics Topics

	connected atomic.Bool

	mu           sync.Mutex
	subs         map[string]subscription
	log          Logger
	onConnect    func()
	onDisconnect func(err error)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect starts the client and waits up to wait for the first session.
//
// The client is returned even on error: an ErrConnectionFailed result means
// the broker was not reachable in time and the client keeps retrying in
// the background, connecting (and firing SetOnConnect) whenever the broker
// appears.
func Connect(cfg config.MQTTConfig, wait time.Duration) (*Client, error) {
	c := newClient(cfg)

	token := c.paho.Connect()
	if !token.WaitTimeout(wait) {
		return c, fmt.Errorf("%w: %s: no session after %v", ErrConnectionFailed, c.broker, wait)
	}
	if err := token.Error(); err != nil {
		return c, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.broker, err)
	}

	// The OnConnect handler runs asynchronously.
	c.connected.Store(true)
	return c, nil
}

// newClient builds a client without touching the network.
func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		broker: brokerURL(cfg),
		qos:    byte(cfg.QoS),
		topics: NewTopics(cfg.Discovery.Prefix, cfg.Discovery.StatePrefix),
		subs:   make(map[string]subscription),
		log:    noopLogger{},
	}

	opts := newOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logger().Info("reconnecting to MQTT broker", "broker", c.broker)
	})

	c.paho = pahomqtt.NewClient(opts)
	return c
}

// Topics returns the topic builder for this client's prefixes.
func (c *Client) Topics() Topics {
	return c.topics
}

// sessionUp restores state after every (re)connect, then runs the hook.
func (c *Client) sessionUp() {
	c.connected.Store(true)
	c.logger().Info("connected to MQTT broker", "broker", c.broker)

	c.mu.Lock()
	for topic, sub := range c.subs {
		// A failure here surfaces as another lost connection.
		c.paho.Subscribe(topic, sub.qos, c.dispatch(sub.handler))
	}
	hook := c.onConnect
	c.mu.Unlock()

	c.announce(PayloadOnline)
	if hook != nil {
		hook()
	}
}

func (c *Client) sessionLost(err error) {
	c.connected.Store(false)
	c.logger().Warn("lost connection to MQTT broker", "broker", c.broker, "error", err)

	c.mu.Lock()
	hook := c.onDisconnect
	c.mu.Unlock()

	if hook != nil {
		hook(err)
	}
}

// announce publishes the availability payload, retained.
func (c *Client) announce(payload string) {
	c.paho.Publish(c.topics.Availability(), availabilityQoS, true, payload).WaitTimeout(publishTimeout)
}

// Close publishes "offline" if connected, then disconnects. It also stops
// a connect retry still in progress. A zero or nil Client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(PayloadOffline)
	}
	c.paho.Disconnect(disconnectQuiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while there is no broker session.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a broker session is up. Nil and zero
// clients are never connected.
func (c *Client) IsConnected() bool {
	return c != nil && c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// SetOnConnect registers a hook run after every (re)connect, once
// subscriptions are restored and "online" is published.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger replaces the logger. Nil restores the silent default.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.log = logger
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}
