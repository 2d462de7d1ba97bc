package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
proxies:
  - name: "living-room"
    host: "192.168.1.50"
    port: 6053
  - host: "192.168.1.51"
    port: 80
    transport: "http"
    path: "/ble"
scan:
  retry_interval: 20
mqtt:
  broker:
    host: "mqtt.local"
    port: 1884
  qos: 1
storage:
  backend: "sqlite"
  sqlite:
    path: "/tmp/devices.db"
api:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Proxies) != 2 {
		t.Fatalf("len(Proxies) = %d, want 2", len(cfg.Proxies))
	}
	if cfg.Proxies[0].Transport != TransportWebSocket {
		t.Errorf("Proxies[0].Transport = %q, want default %q", cfg.Proxies[0].Transport, TransportWebSocket)
	}
	if cfg.Proxies[1].Name != "192.168.1.51:80" {
		t.Errorf("Proxies[1].Name = %q, want host:port fallback", cfg.Proxies[1].Name)
	}
	if cfg.Scan.RetryInterval != 20 {
		t.Errorf("Scan.RetryInterval = %d, want 20", cfg.Scan.RetryInterval)
	}
	if cfg.MQTT.Broker.Host != "mqtt.local" || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.Storage.Backend != StorageSQLite {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	// Untouched defaults survive.
	if cfg.MQTT.Discovery.Prefix != "homeassistant" {
		t.Errorf("Discovery.Prefix = %q, want homeassistant", cfg.MQTT.Discovery.Prefix)
	}
}

func TestLoad_AddonOptionsJSON(t *testing.T) {
	path := writeConfig(t, "options.json", `{
  "esp32_proxies": [{"host": "10.0.0.7", "port": 6053, "password": "s3cret"}],
  "scan_interval": 30,
  "log_level": "debug",
  "mqtt_host": "<auto_detect>",
  "mqtt_port": 1883,
  "mqtt_user": "<auto_detect>",
  "mqtt_password": "<auto_detect>",
  "mqtt_topic": "ble_scanner/devices"
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Proxies) != 1 {
		t.Fatalf("len(Proxies) = %d, want 1", len(cfg.Proxies))
	}
	p := cfg.Proxies[0]
	if p.Host != "10.0.0.7" || p.Port != 6053 || p.Password != "s3cret" {
		t.Errorf("proxy = %+v", p)
	}
	if p.Name != "10.0.0.7:6053" {
		t.Errorf("proxy name = %q", p.Name)
	}
	if cfg.Scan.RetryInterval != 30 {
		t.Errorf("RetryInterval = %d, want 30 from scan_interval", cfg.Scan.RetryInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.MQTT.Broker.Host != AutoDetect || cfg.MQTT.Auth.Username != AutoDetect {
		t.Errorf("auto-detect sentinels not preserved: %+v %+v", cfg.MQTT.Broker, cfg.MQTT.Auth)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT should be enabled when mqtt_host is set")
	}
}

func TestLoad_EmptyMQTTHostDisablesMQTT(t *testing.T) {
	path := writeConfig(t, "options.json", `{"mqtt_host": ""}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT should be disabled for an empty mqtt_host")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Port != 8099 {
		t.Errorf("API.Port = %d, want 8099", cfg.API.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "invalid: [yaml: content")

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
proxies:
  - host: ""
    port: 0
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "proxies[0].host is required") {
		t.Errorf("error %q does not name the bad field", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "valid proxies",
			mutate: func(c *Config) {
				c.Proxies = []ProxyConfig{
					{Name: "a", Host: "10.0.0.1", Port: 6053, Transport: TransportWebSocket},
					{Name: "b", Host: "10.0.0.2", Port: 80, Transport: TransportHTTP},
					{Name: "c", Transport: TransportLocal},
				}
			},
		},
		{
			name: "unknown transport",
			mutate: func(c *Config) {
				c.Proxies = []ProxyConfig{{Name: "a", Host: "h", Port: 1, Transport: "native"}}
			},
			wantErr: "transport",
		},
		{
			name: "duplicate proxy name",
			mutate: func(c *Config) {
				c.Proxies = []ProxyConfig{
					{Name: "a", Host: "h", Port: 1, Transport: TransportWebSocket},
					{Name: "a", Host: "h2", Port: 1, Transport: TransportWebSocket},
				}
			},
			wantErr: "duplicated",
		},
		{
			name:    "proxy port out of range",
			mutate:  func(c *Config) { c.Proxies = []ProxyConfig{{Name: "a", Host: "h", Port: 70000, Transport: TransportWebSocket}} },
			wantErr: "port",
		},
		{
			name:    "zero retry interval",
			mutate:  func(c *Config) { c.Scan.RetryInterval = 0 },
			wantErr: "retry_interval",
		},
		{
			name:    "negative jitter",
			mutate:  func(c *Config) { c.Scan.RetryJitter = -1 },
			wantErr: "retry_jitter",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "etcd" },
			wantErr: "storage.backend",
		},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Storage.Backend = StorageRedis
				c.Storage.Redis.Addr = ""
			},
			wantErr: "storage.redis.addr",
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name:   "JWT secret long enough",
			mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret },
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "security.jwt.secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error does not wrap ErrInvalid")
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := defaultConfig()
	cfg.API.Port = 0
	cfg.MQTT.QoS = 7
	cfg.Scan.RetryInterval = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, field := range []string{"api.port", "mqtt.qos", "scan.retry_interval"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()
	cfg.Scan.RetryInterval = 12
	cfg.Scan.RetryJitter = 3
	cfg.Storage.PruneAfter = 3600
	cfg.API.Timeouts = APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	read, write, idle := cfg.API.Timeouts.Durations()
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"RetryInterval", cfg.RetryInterval().Seconds(), 12},
		{"RetryJitter", cfg.RetryJitter().Seconds(), 3},
		{"PollInterval", cfg.PollInterval().Seconds(), 10},
		{"FlushInterval", cfg.FlushInterval().Seconds(), 5},
		{"PruneAfter", cfg.PruneAfter().Seconds(), 3600},
		{"PresenceTimeout", cfg.PresenceTimeout().Seconds(), 300},
		{"Timeouts.read", read.Seconds(), 30},
		{"Timeouts.write", write.Seconds(), 45},
		{"Timeouts.idle", idle.Seconds(), 60},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s() = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("BLESCANNER_MQTT_HOST", "mqtt.example.com")
	t.Setenv("BLESCANNER_MQTT_PORT", "8883")
	t.Setenv("BLESCANNER_MQTT_USERNAME", "testuser")
	t.Setenv("BLESCANNER_MQTT_PASSWORD", "testpass")
	t.Setenv("BLESCANNER_API_HOST", "127.0.0.1")
	t.Setenv("BLESCANNER_API_PORT", "not-a-number")
	t.Setenv("BLESCANNER_STORAGE_PATH", "/tmp/devices.json")
	t.Setenv("BLESCANNER_LOG_LEVEL", "debug")
	t.Setenv("BLESCANNER_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("BLESCANNER_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q", cfg.API.Host)
	}
	if cfg.API.Port != 8099 {
		t.Errorf("API.Port = %d, want default kept for unparsable value", cfg.API.Port)
	}
	if cfg.Storage.Path != "/tmp/devices.json" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q", cfg.Security.JWT.Secret)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Host != AutoDetect {
		t.Errorf("MQTT.Broker.Host = %q, want auto-detect sentinel", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8099 {
		t.Errorf("API.Port = %d, want 8099", cfg.API.Port)
	}
	if cfg.Storage.Path != "/data/ble_devices/devices.json" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if !cfg.Scan.AutoStart {
		t.Error("Scan.AutoStart should default to true")
	}
}
