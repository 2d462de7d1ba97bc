package config

// addonOptions mirrors the flat option keys of the Home Assistant add-on
// manifest, as written by the Supervisor to /data/options.json. Pointer
// fields distinguish "absent" from a zero value.
type addonOptions struct {
	ESP32Proxies  []addonProxy `yaml:"esp32_proxies"`
	ScanInterval  *int         `yaml:"scan_interval"`
	LogLevel      *string      `yaml:"log_level"`
	MQTTHost      *string      `yaml:"mqtt_host"`
	MQTTPort      *int         `yaml:"mqtt_port"`
	MQTTUser      *string      `yaml:"mqtt_user"`
	MQTTPassword  *string      `yaml:"mqtt_password"`
	MQTTTopic     *string      `yaml:"mqtt_topic"`
	MQTTDiscovery *bool        `yaml:"mqtt_discovery"`
}

type addonProxy struct {
	Name      string `yaml:"name"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"`
	Password  string `yaml:"password"`
	APIKey    string `yaml:"api_key"`
	Path      string `yaml:"path"`
}

// apply copies every option that was present onto cfg.
func (o addonOptions) apply(cfg *Config) {
	for _, p := range o.ESP32Proxies {
		cfg.Proxies = append(cfg.Proxies, ProxyConfig(p))
	}
	if o.ScanInterval != nil {
		cfg.Scan.RetryInterval = *o.ScanInterval
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.MQTTHost != nil {
		cfg.MQTT.Broker.Host = *o.MQTTHost
		cfg.MQTT.Enabled = *o.MQTTHost != ""
	}
	if o.MQTTPort != nil {
		cfg.MQTT.Broker.Port = *o.MQTTPort
	}
	if o.MQTTUser != nil {
		cfg.MQTT.Auth.Username = *o.MQTTUser
	}
	if o.MQTTPassword != nil {
		cfg.MQTT.Auth.Password = *o.MQTTPassword
	}
	if o.MQTTTopic != nil {
		cfg.MQTT.DeviceTopic = *o.MQTTTopic
	}
	if o.MQTTDiscovery != nil {
		cfg.MQTT.Discovery.Enabled = *o.MQTTDiscovery
	}
}
