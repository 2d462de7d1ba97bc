package device

import "time"

// Source values that are not proxy names.
const (
	// SourceManual marks records created through the API.
	SourceManual = "manual"

	// UnknownManufacturer is stored when an advertisement carries none.
	UnknownManufacturer = "Unknown"
)

// Device is one observed BLE peripheral, keyed by its canonical MAC.
//
// The JSON form is also the persisted form: the device file is an object
// keyed by MAC whose values are Devices.
type Device struct {
	MACAddress    string    `json:"mac_address"`
	Name          string    `json:"name"`
	RSSI          int       `json:"rssi"`
	Manufacturer  string    `json:"manufacturer"`
	Services      []string  `json:"services"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	SeenCount     int       `json:"seen_count"`
	Source        string    `json:"source"`
	AddedManually bool      `json:"added_manually"`
	Category      string    `json:"category,omitempty"`
}

// DeepCopy creates an independent copy of the Device.
// Callers may modify the copy without affecting the registry.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Services = make([]string, len(d.Services))
	copy(cpy.Services, d.Services)

	return &cpy
}

// Observation is one advertisement as decoded by a proxy transport.
// Empty Name, Manufacturer and Services mean "not advertised".
type Observation struct {
	MAC          string
	Name         string
	RSSI         int
	Manufacturer string
	Services     []string
	Source       string
}

// ManualFields are the user-supplied fields of AddManual.
type ManualFields struct {
	Name         string   `json:"name"`
	RSSI         int      `json:"rssi"`
	Manufacturer string   `json:"manufacturer"`
	Services     []string `json:"services"`
}

// EventType identifies a registry change.
type EventType string

// Registry change events.
const (
	EventCreated EventType = "device.created"
	EventUpdated EventType = "device.updated"
	EventRemoved EventType = "device.removed"
	EventCleared EventType = "devices.cleared"
)

// Event describes one registry change.
type Event struct {
	Type EventType

	// Device is a copy of the record after the change (before removal for
	// EventRemoved). Nil for EventCleared.
	Device *Device

	// Changed reports a material change: name, manufacturer, services or
	// category differ from the previous record. Always true for
	// EventCreated and for manual writes.
	Changed bool

	// MACs lists the removed addresses for EventCleared.
	MACs []string
}

// Listener receives registry events. It is called outside the registry
// lock and must not block.
type Listener func(Event)

// Stats holds registry counters.
type Stats struct {
	Devices         int       `json:"devices"`
	Upserts         uint64    `json:"upserts"`
	Created         uint64    `json:"created"`
	PersistFailures uint64    `json:"persist_failures"`
	LastPersist     time.Time `json:"last_persist,omitempty"`
}

// dedupeServices returns services without duplicates or blanks, keeping
// first-seen order. The result is never nil.
func dedupeServices(services []string) []string {
	out := make([]string, 0, len(services))
	seen := make(map[string]struct{}, len(services))
	for _, s := range services {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func equalServices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
