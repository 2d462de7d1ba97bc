// Package influxdb records scanner telemetry in InfluxDB 2.x.
//
// Two measurements are written:
//
//	ble_rssi,mac=AA:BB:CC:DD:EE:FF,name=Tag,manufacturer=Apple,source=hall rssi=-67i
//	ble_proxy,proxy=hall,transport=websocket connected=true,attempts=3u,advertisements=1200u
//
// The first gets one point per sighting, fed by a registry listener. The
// second is sampled from the proxy manager on the batch flush interval.
//
// Telemetry is optional. Connect returns ErrDisabled or ErrConnectionFailed
// and the caller continues without it; every method on a nil *Client is a
// no-op, so callers never need to guard.
package influxdb
