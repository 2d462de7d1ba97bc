package mqtt

import "fmt"

// Topic defaults.
const (
	// DefaultDiscoveryPrefix is Home Assistant's discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"

	// DefaultStatePrefix is the root of the scanner's own topics.
	DefaultStatePrefix = "blescanner"

	// objectIDPrefix namespaces unique IDs and device identifiers.
	objectIDPrefix = "blescanner"
)

// Home Assistant entity components.
const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
)

// Topics builds the MQTT topics used by the scanner.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.NewTopics("homeassistant", "blescanner")
//	topics.Config("sensor", "aabbccddeeff", "rssi")
//	// Returns: "homeassistant/sensor/blescanner_aabbccddeeff_rssi/config"
type Topics struct {
	discoveryPrefix string
	statePrefix     string
}

// NewTopics creates a builder. Empty prefixes take the defaults.
func NewTopics(discoveryPrefix, statePrefix string) Topics {
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	if statePrefix == "" {
		statePrefix = DefaultStatePrefix
	}
	return Topics{discoveryPrefix: discoveryPrefix, statePrefix: statePrefix}
}

// =============================================================================
// Discovery Topics
// =============================================================================

// ObjectID returns the entity object ID for one field of a device.
//
// Example: blescanner_aabbccddeeff_rssi
func (Topics) ObjectID(macHex, field string) string {
	return fmt.Sprintf("%s_%s_%s", objectIDPrefix, macHex, field)
}

// DeviceIdentifier returns the Home Assistant device identifier that groups
// every entity of one MAC.
//
// Example: blescanner_aabbccddeeff
func (Topics) DeviceIdentifier(macHex string) string {
	return fmt.Sprintf("%s_%s", objectIDPrefix, macHex)
}

// ScannerIdentifier returns the Home Assistant device identifier of the
// scanner itself. Every BLE device names it as via_device.
func (Topics) ScannerIdentifier() string {
	return objectIDPrefix
}

// ScannerConfig returns the discovery config topic for one of the
// scanner's own entities.
//
// Example: homeassistant/binary_sensor/blescanner_status/config
func (t Topics) ScannerConfig(component, field string) string {
	return fmt.Sprintf("%s/%s/%s_%s/config", t.discoveryPrefix, component, objectIDPrefix, field)
}

// Config returns the retained discovery config topic for one entity.
//
// Example: homeassistant/sensor/blescanner_aabbccddeeff_rssi/config
func (t Topics) Config(component, macHex, field string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.discoveryPrefix, component, t.ObjectID(macHex, field))
}

// HomeAssistantStatus returns the topic Home Assistant publishes its birth
// and will messages on.
//
// Example: homeassistant/status
func (t Topics) HomeAssistantStatus() string {
	return t.discoveryPrefix + "/status"
}

// =============================================================================
// State Topics
// =============================================================================

// State returns the state topic for one field of a device.
//
// Example: blescanner/aabbccddeeff/rssi
func (t Topics) State(macHex, field string) string {
	return fmt.Sprintf("%s/%s/%s", t.statePrefix, macHex, field)
}

// Availability returns the scanner's online/offline topic.
//
// Example: blescanner/status
func (t Topics) Availability() string {
	return t.statePrefix + "/status"
}
