package discovery

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nerrad567/ble-scanner/internal/device"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/mqtt"
)

// State topic fields.
const (
	FieldRSSI       = "rssi"
	FieldPresence   = "presence"
	FieldLastSeen   = "last_seen"
	FieldAttributes = "attributes"
)

// Presence payloads.
const (
	PresenceOn  = "ON"
	PresenceOff = "OFF"
)

// The scanner's own Home Assistant device. Its connectivity entity follows
// the availability topic.
const (
	scannerName         = "BLE Scanner"
	scannerManufacturer = "nerrad567"
	scannerModel        = "BLE Scanner add-on"
	scannerStatusField  = "status"
)

// entity describes one discovery entity of a device.
type entity struct {
	component string
	field     string
	name      string
	apply     func(*entityConfig)
}

// entities lists the three entities announced for every device.
var entities = []entity{
	{
		component: mqtt.ComponentSensor,
		field:     FieldRSSI,
		name:      "RSSI",
		apply: func(c *entityConfig) {
			c.DeviceClass = "signal_strength"
			c.UnitOfMeasurement = "dBm"
			c.StateClass = "measurement"
		},
	},
	{
		component: mqtt.ComponentBinarySensor,
		field:     FieldPresence,
		name:      "Presence",
		apply: func(c *entityConfig) {
			c.DeviceClass = "presence"
			c.PayloadOn = PresenceOn
			c.PayloadOff = PresenceOff
		},
	},
	{
		component: mqtt.ComponentSensor,
		field:     FieldLastSeen,
		name:      "Last Seen",
		apply: func(c *entityConfig) {
			c.DeviceClass = "timestamp"
		},
	},
}

// entityConfig is the Home Assistant MQTT discovery payload.
type entityConfig struct {
	Name                string      `json:"name"`
	UniqueID            string      `json:"unique_id"`
	ObjectID            string      `json:"object_id"`
	StateTopic          string      `json:"state_topic"`
	AvailabilityTopic   string      `json:"availability_topic"`
	JSONAttributesTopic string      `json:"json_attributes_topic"`
	DeviceClass         string      `json:"device_class,omitempty"`
	UnitOfMeasurement   string      `json:"unit_of_measurement,omitempty"`
	StateClass          string      `json:"state_class,omitempty"`
	PayloadOn           string      `json:"payload_on,omitempty"`
	PayloadOff          string      `json:"payload_off,omitempty"`
	Device              haDeviceRef `json:"device"`
}

// haDeviceRef groups all entities of one MAC under a single HA device.
type haDeviceRef struct {
	Identifiers  []string    `json:"identifiers"`
	Connections  [][2]string `json:"connections"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	ViaDevice    string      `json:"via_device"`
}

// scannerConfig announces the scanner as a device with one connectivity
// entity, so device entities can name it as via_device.
type scannerConfig struct {
	Name           string         `json:"name"`
	UniqueID       string         `json:"unique_id"`
	ObjectID       string         `json:"object_id"`
	StateTopic     string         `json:"state_topic"`
	DeviceClass    string         `json:"device_class"`
	EntityCategory string         `json:"entity_category"`
	PayloadOn      string         `json:"payload_on"`
	PayloadOff     string         `json:"payload_off"`
	Device         haScannerBlock `json:"device"`
}

type haScannerBlock struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// attributes is the retained JSON published on the attributes topic.
type attributes struct {
	MACAddress    string    `json:"mac_address"`
	Manufacturer  string    `json:"manufacturer"`
	Services      []string  `json:"services"`
	SeenCount     int       `json:"seen_count"`
	Source        string    `json:"source"`
	AddedManually bool      `json:"added_manually"`
	Category      string    `json:"category,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
}

// message is one outgoing MQTT publish.
type message struct {
	topic    string
	payload  []byte
	retained bool
}

// configMessages builds the retained discovery configs for d.
func configMessages(topics mqtt.Topics, d *device.Device) ([]message, error) {
	hex := device.CompactMAC(d.MACAddress)
	ref := haDeviceRef{
		Identifiers:  []string{topics.DeviceIdentifier(hex)},
		Connections:  [][2]string{{"mac", d.MACAddress}},
		Name:         d.Name,
		Manufacturer: d.Manufacturer,
		ViaDevice:    topics.ScannerIdentifier(),
	}

	msgs := make([]message, 0, len(entities))
	for _, e := range entities {
		objectID := topics.ObjectID(hex, e.field)
		cfg := entityConfig{
			Name:                e.name,
			UniqueID:            objectID,
			ObjectID:            objectID,
			StateTopic:          topics.State(hex, e.field),
			AvailabilityTopic:   topics.Availability(),
			JSONAttributesTopic: topics.State(hex, FieldAttributes),
			Device:              ref,
		}
		e.apply(&cfg)

		payload, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, message{
			topic:    topics.Config(e.component, hex, e.field),
			payload:  payload,
			retained: true,
		})
	}
	return msgs, nil
}

// scannerMessage builds the retained discovery config of the scanner.
func scannerMessage(topics mqtt.Topics, version string) (message, error) {
	id := topics.ScannerIdentifier()
	payload, err := json.Marshal(scannerConfig{
		Name:           "Status",
		UniqueID:       id + "_" + scannerStatusField,
		ObjectID:       id + "_" + scannerStatusField,
		StateTopic:     topics.Availability(),
		DeviceClass:    "connectivity",
		EntityCategory: "diagnostic",
		PayloadOn:      mqtt.PayloadOnline,
		PayloadOff:     mqtt.PayloadOffline,
		Device: haScannerBlock{
			Identifiers:  []string{id},
			Name:         scannerName,
			Manufacturer: scannerManufacturer,
			Model:        scannerModel,
			SWVersion:    version,
		},
	})
	if err != nil {
		return message{}, err
	}
	return message{
		topic:    topics.ScannerConfig(mqtt.ComponentBinarySensor, scannerStatusField),
		payload:  payload,
		retained: true,
	}, nil
}

// removalMessages builds the empty retained configs that delete the
// entities of mac from Home Assistant.
func removalMessages(topics mqtt.Topics, mac string) []message {
	hex := device.CompactMAC(mac)
	msgs := make([]message, 0, len(entities))
	for _, e := range entities {
		msgs = append(msgs, message{
			topic:    topics.Config(e.component, hex, e.field),
			payload:  []byte{},
			retained: true,
		})
	}
	return msgs
}

// stateMessages builds the retained state updates for d.
func stateMessages(topics mqtt.Topics, d *device.Device, present bool) ([]message, error) {
	hex := device.CompactMAC(d.MACAddress)

	presence := PresenceOn
	if !present {
		presence = PresenceOff
	}

	attrs, err := json.Marshal(attributes{
		MACAddress:    d.MACAddress,
		Manufacturer:  d.Manufacturer,
		Services:      d.Services,
		SeenCount:     d.SeenCount,
		Source:        d.Source,
		AddedManually: d.AddedManually,
		Category:      d.Category,
		FirstSeen:     d.FirstSeen,
	})
	if err != nil {
		return nil, err
	}

	return []message{
		{topic: topics.State(hex, FieldRSSI), payload: []byte(strconv.Itoa(d.RSSI)), retained: true},
		{topic: topics.State(hex, FieldPresence), payload: []byte(presence), retained: true},
		{topic: topics.State(hex, FieldLastSeen), payload: []byte(d.LastSeen.UTC().Format(time.RFC3339)), retained: true},
		{topic: topics.State(hex, FieldAttributes), payload: attrs, retained: true},
	}, nil
}

// presenceOffMessage builds the OFF update for an absent device.
func presenceOffMessage(topics mqtt.Topics, mac string) message {
	return message{
		topic:    topics.State(device.CompactMAC(mac), FieldPresence),
		payload:  []byte(PresenceOff),
		retained: true,
	}
}
