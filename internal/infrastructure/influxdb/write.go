package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the scanner.
const (
	MeasurementRSSI  = "ble_rssi"
	MeasurementProxy = "ble_proxy"
)

// RSSISample is one signal strength reading of a device.
type RSSISample struct {
	MAC          string
	Name         string
	Manufacturer string
	Source       string
	RSSI         int
	Time         time.Time
}

// ProxySample is the counters of one proxy endpoint at a point in time.
type ProxySample struct {
	Name           string
	Transport      string
	Connected      bool
	Attempts       uint64
	Advertisements uint64
	Time           time.Time
}

// WriteRSSI queues one sighting:
//
//	ble_rssi,mac=AA:BB:CC:DD:EE:FF,name=Tag,manufacturer=Apple,source=hall rssi=-67i
//
// Empty name, manufacturer and source are left out of the tag set.
func (c *Client) WriteRSSI(s RSSISample) {
	if !c.IsConnected() {
		return
	}

	p := write.NewPointWithMeasurement(MeasurementRSSI).
		AddTag("mac", s.MAC).
		AddField("rssi", s.RSSI).
		SetTime(orNow(s.Time))
	addTagIfSet(p, "name", s.Name)
	addTagIfSet(p, "manufacturer", s.Manufacturer)
	addTagIfSet(p, "source", s.Source)

	c.writer.WritePoint(p)
}

// WriteProxy queues the counters of one endpoint:
//
//	ble_proxy,proxy=hall,transport=websocket connected=true,attempts=3i,advertisements=1200i
func (c *Client) WriteProxy(s ProxySample) {
	if !c.IsConnected() {
		return
	}

	p := write.NewPointWithMeasurement(MeasurementProxy).
		AddTag("proxy", s.Name).
		AddField("connected", s.Connected).
		AddField("attempts", s.Attempts).
		AddField("advertisements", s.Advertisements).
		SetTime(orNow(s.Time))
	addTagIfSet(p, "transport", s.Transport)

	c.writer.WritePoint(p)
}

func addTagIfSet(p *write.Point, key, value string) {
	if value != "" {
		p.AddTag(key, value)
	}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
