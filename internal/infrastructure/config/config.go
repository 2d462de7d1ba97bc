package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AutoDetect is the sentinel value asking the host environment to supply
// the real MQTT host or credentials. See ResolveBrokerConfig.
const AutoDetect = "<auto_detect>"

// Proxy transports.
const (
	TransportWebSocket = "websocket"
	TransportHTTP      = "http"
	TransportLocal     = "local"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// ErrInvalid wraps every failure reported by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration structure for the BLE scanner.
// It is loaded from YAML (or the add-on's options.json) and can be
// overridden by environment variables.
type Config struct {
	Proxies   []ProxyConfig   `yaml:"proxies"`
	Scan      ScanConfig      `yaml:"scan"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Storage   StorageConfig   `yaml:"storage"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ProxyConfig describes one remote BLE proxy endpoint.
type ProxyConfig struct {
	Name      string `yaml:"name"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"`
	Password  string `yaml:"password"`
	APIKey    string `yaml:"api_key"`
	// Path is the WebSocket path or the HTTP poll path, depending on Transport.
	Path string `yaml:"path"`
}

// Address returns host:port.
func (p ProxyConfig) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// ScanConfig controls the proxy ingestion loops.
type ScanConfig struct {
	AutoStart     bool   `yaml:"auto_start"`
	RetryInterval int    `yaml:"retry_interval"` // seconds
	RetryJitter   int    `yaml:"retry_jitter"`   // seconds, 0 disables jitter
	PollInterval  int    `yaml:"poll_interval"`  // seconds, HTTP transport only
	Adapter       string `yaml:"adapter"`        // local transport only
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	KeepAlive   int                 `yaml:"keep_alive"`
	DeviceTopic string              `yaml:"device_topic"`
	Discovery   MQTTDiscoveryConfig `yaml:"discovery"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTDiscoveryConfig controls Home Assistant MQTT discovery.
type MQTTDiscoveryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Prefix          string `yaml:"prefix"`
	StatePrefix     string `yaml:"state_prefix"`
	PresenceTimeout int    `yaml:"presence_timeout"` // seconds
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the dashboard from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the device event stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// StorageConfig selects where the device table is persisted.
type StorageConfig struct {
	Backend       string              `yaml:"backend"`
	Path          string              `yaml:"path"`
	FlushInterval int                 `yaml:"flush_interval"` // seconds
	PruneAfter    int                 `yaml:"prune_after"`    // seconds, 0 disables
	SQLite        SQLiteStorageConfig `yaml:"sqlite"`
	Redis         RedisStorageConfig  `yaml:"redis"`
}

// SQLiteStorageConfig contains SQLite database settings.
type SQLiteStorageConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisStorageConfig contains Redis connection settings.
type RedisStorageConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// InfluxDBConfig contains InfluxDB connection settings for RSSI telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT settings. An empty secret disables API auth.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML or JSON file and applies
// environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); a missing file is not an error
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BLESCANNER_SECTION_KEY
// For example: BLESCANNER_MQTT_HOST, BLESCANNER_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := parse(data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus environment.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// parse decodes data into cfg. Both the nested layout and the flat
// Home Assistant add-on option keys are understood.
func parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	var opts addonOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return fmt.Errorf("parsing add-on options: %w", err)
	}
	opts.apply(cfg)

	for i := range cfg.Proxies {
		p := &cfg.Proxies[i]
		if p.Transport == "" {
			p.Transport = TransportWebSocket
		}
		if p.Name == "" {
			p.Name = p.Address()
		}
	}

	return nil
}

// defaultConfig returns a Config with add-on defaults.
func defaultConfig() *Config {
	return &Config{
		Scan: ScanConfig{
			AutoStart:     true,
			RetryInterval: 15,
			RetryJitter:   0,
			PollInterval:  10,
			Adapter:       "hci0",
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     AutoDetect,
				Port:     1883,
				ClientID: "blescanner",
			},
			QoS:         0,
			KeepAlive:   60,
			DeviceTopic: "ble_scanner/devices",
			Discovery: MQTTDiscoveryConfig{
				Enabled:         true,
				Prefix:          "homeassistant",
				StatePrefix:     "blescanner",
				PresenceTimeout: 300,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Storage: StorageConfig{
			Backend:       StorageFile,
			Path:          "/data/ble_devices/devices.json",
			FlushInterval: 5,
			SQLite: SQLiteStorageConfig{
				Path:        "/data/ble_devices/devices.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
			Redis: RedisStorageConfig{
				Addr: "localhost:6379",
				Key:  "blescanner:devices",
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "blescanner",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("BLESCANNER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BLESCANNER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BLESCANNER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BLESCANNER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BLESCANNER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("BLESCANNER_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("BLESCANNER_PANEL_DIR"); v != "" {
		cfg.API.PanelDir = v
	}

	// Storage
	if v := os.Getenv("BLESCANNER_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("BLESCANNER_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("BLESCANNER_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}

	// Logging
	if v := os.Getenv("BLESCANNER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// InfluxDB
	if v := os.Getenv("BLESCANNER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("BLESCANNER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate reports every invalid field at once, joined under ErrInvalid.
func (c *Config) Validate() error {
	var bad problems

	// Proxies
	names := make(map[string]bool, len(c.Proxies))
	for i, p := range c.Proxies {
		if p.Transport != TransportLocal {
			if p.Host == "" {
				bad.addf("proxies[%d].host is required", i)
			}
			if p.Port < 1 || p.Port > 65535 {
				bad.addf("proxies[%d].port must be between 1 and 65535", i)
			}
		}
		switch p.Transport {
		case TransportWebSocket, TransportHTTP, TransportLocal:
		default:
			bad.addf("proxies[%d].transport %q is not supported", i, p.Transport)
		}
		if names[p.Name] {
			bad.addf("proxies[%d].name %q is duplicated", i, p.Name)
		}
		names[p.Name] = true
	}

	// Scan
	if c.Scan.RetryInterval <= 0 {
		bad.addf("scan.retry_interval must be positive")
	}
	if c.Scan.RetryJitter < 0 {
		bad.addf("scan.retry_jitter must not be negative")
	}
	if c.Scan.PollInterval <= 0 {
		bad.addf("scan.poll_interval must be positive")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		bad.addf("mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Discovery.Enabled && c.MQTT.Discovery.Prefix == "" {
		bad.addf("mqtt.discovery.prefix is required when discovery is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Discovery.StatePrefix == "" {
		bad.addf("mqtt.discovery.state_prefix is required")
	}

	// API
	if c.API.Port < 1 || c.API.Port > 65535 {
		bad.addf("api.port must be between 1 and 65535")
	}

	// Storage
	switch c.Storage.Backend {
	case StorageFile:
		if c.Storage.Path == "" {
			bad.addf("storage.path is required for the file backend")
		}
	case StorageSQLite:
		if c.Storage.SQLite.Path == "" {
			bad.addf("storage.sqlite.path is required for the sqlite backend")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			bad.addf("storage.redis.addr is required for the redis backend")
		}
	default:
		bad.addf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Storage.FlushInterval <= 0 {
		bad.addf("storage.flush_interval must be positive")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		bad.addf("influxdb.url is required when influxdb is enabled")
	}

	// Security - the JWT secret is optional, but a short one is rejected.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		bad.addf("security.jwt.secret must be at least 32 characters")
	}

	return bad.err()
}

// problems collects validation failures.
type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n%w", ErrInvalid, errors.Join(p...))
}

// RetryInterval returns the fixed proxy reconnect backoff.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Scan.RetryInterval) * time.Second
}

// RetryJitter returns the maximum random jitter added to each backoff.
func (c *Config) RetryJitter() time.Duration {
	return time.Duration(c.Scan.RetryJitter) * time.Second
}

// PollInterval returns the HTTP transport poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scan.PollInterval) * time.Second
}

// FlushInterval returns how often dirty registry state is persisted.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Storage.FlushInterval) * time.Second
}

// PruneAfter returns the stale-device threshold, zero when pruning is off.
func (c *Config) PruneAfter() time.Duration {
	return time.Duration(c.Storage.PruneAfter) * time.Second
}

// PresenceTimeout returns how long a device may go unseen before it is
// reported away.
func (c *Config) PresenceTimeout() time.Duration {
	return time.Duration(c.MQTT.Discovery.PresenceTimeout) * time.Second
}

// Durations converts the second counts to time.Duration.
func (t APITimeoutConfig) Durations() (read, write, idle time.Duration) {
	return time.Duration(t.Read) * time.Second,
		time.Duration(t.Write) * time.Second,
		time.Duration(t.Idle) * time.Second
}
