package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
)

// DefaultConnectWait is how long startup usually waits for the first session.
const DefaultConnectWait = 10 * time.Second

const (
	connectTimeout          = 10 * time.Second
	publishTimeout          = 5 * time.Second
	disconnectQuiesceMillis = 1000
	defaultKeepAlive        = 60 * time.Second
	connectRetryInterval    = 5 * time.Second
	maxReconnectInterval    = time.Minute

	availabilityQoS = 1
	maxQoS          = 2
)

// Availability payloads understood by Home Assistant.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// brokerURL returns tcp://host:port, or ssl://host:port with TLS.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// clientID appends a short random suffix so two scanners sharing a
// configured ID never kick each other off the broker.
func clientID(cfg config.MQTTConfig) string {
	base := cfg.Broker.ClientID
	if base == "" {
		base = DefaultStatePrefix
	}
	return base + "-" + uuid.NewString()[:8]
}

// newOptions maps the scanner config onto paho options: clean session,
// unbounded connect retry and reconnect, the offline will on the
// availability topic, and TLS 1.2+ when enabled.
func newOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(clientID(cfg)).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(topics.Availability(), PayloadOffline, availabilityQoS, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}
