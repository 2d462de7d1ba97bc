package proxy

import "github.com/nerrad567/ble-scanner/internal/device"

// Advertisement is one decoded BLE advertisement as delivered by a
// ProxyClient. Empty fields were not present in the packet.
type Advertisement struct {
	MAC          string
	Name         string
	RSSI         int
	Manufacturer string
	Services     []string
}

// Observation converts the advertisement into registry input attributed
// to source.
func (a Advertisement) Observation(source string) device.Observation {
	return device.Observation{
		MAC:          a.MAC,
		Name:         a.Name,
		RSSI:         a.RSSI,
		Manufacturer: a.Manufacturer,
		Services:     a.Services,
		Source:       source,
	}
}
