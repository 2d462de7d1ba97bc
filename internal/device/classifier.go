package device

import "strings"

// Classifier derives a coarse category for a device. Implementations must
// be fast and side-effect free: they run under the registry lock.
type Classifier interface {
	Classify(d *Device) string
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(d *Device) string

// Classify calls f(d).
func (f ClassifierFunc) Classify(d *Device) string { return f(d) }

// bluetoothBaseSuffix is the tail of the Bluetooth Base UUID. A 128-bit
// UUID ending in it carries a 16-bit assigned number in bytes 2-3.
const bluetoothBaseSuffix = "-0000-1000-8000-00805F9B34FB"

// ServiceClassifier categorises devices by their advertised GATT services,
// falling back to the manufacturer.
type ServiceClassifier struct {
	services      map[string]string
	manufacturers []vendorCategory
}

type vendorCategory struct {
	vendor   string
	category string
}

// NewServiceClassifier returns a classifier preloaded with common Bluetooth
// SIG service numbers and vendor names.
func NewServiceClassifier() *ServiceClassifier {
	return &ServiceClassifier{
		services: map[string]string{
			"1802": "proximity",
			"180D": "heart_rate",
			"180F": "battery",
			"1809": "thermometer",
			"1810": "blood_pressure",
			"1812": "hid",
			"1816": "cycling",
			"1818": "cycling",
			"1814": "running",
			"181A": "environmental",
			"181B": "body_composition",
			"181D": "scale",
			"1826": "fitness_machine",
			"FD6F": "exposure_notification",
			"FE9F": "google",
			"FEAA": "beacon",
			"FE95": "xiaomi",
			"FCD2": "bthome",
			"FEED": "tracker",
		},
		manufacturers: []vendorCategory{
			{"apple", "apple"},
			{"google", "google"},
			{"samsung", "samsung"},
			{"tile", "tracker"},
			{"ruuvi", "environmental"},
			{"xiaomi", "xiaomi"},
			{"govee", "environmental"},
		},
	}
}

// Classify returns the first category matched by a service, then by
// manufacturer, or "" when nothing matches.
func (c *ServiceClassifier) Classify(d *Device) string {
	for _, svc := range d.Services {
		if cat, ok := c.services[ShortUUID(svc)]; ok {
			return cat
		}
	}

	m := strings.ToLower(d.Manufacturer)
	for _, vc := range c.manufacturers {
		if strings.Contains(m, vc.vendor) {
			return vc.category
		}
	}
	return ""
}

// ShortUUID reduces a service UUID to its 16-bit form when it is one
// ("0x180d", "180D" and "0000180d-0000-1000-8000-00805f9b34fb" all give
// "180D"). Other UUIDs are returned uppercased.
func ShortUUID(uuid string) string {
	u := strings.ToUpper(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0X")
	if len(u) == 36 && strings.HasSuffix(u, bluetoothBaseSuffix) && strings.HasPrefix(u, "0000") {
		return u[4:8]
	}
	return u
}
