// Package discovery publishes discovered BLE devices to Home Assistant over
// MQTT discovery.
//
// Every device becomes one Home Assistant device with three entities:
//
//	sensor         RSSI       homeassistant/sensor/blescanner_<mac>_rssi/config
//	binary_sensor  Presence   homeassistant/binary_sensor/blescanner_<mac>_presence/config
//	sensor         Last Seen  homeassistant/sensor/blescanner_<mac>_last_seen/config
//
// State is published retained under blescanner/<mac>/{rssi,presence,last_seen,attributes}.
// Removing a device publishes empty configs, which deletes the entities.
//
// The Publisher is a device.Listener: registry events are queued and a
// single worker publishes them, so the registry never waits on the broker.
// Announced devices are re-announced after every broker reconnect and
// whenever Home Assistant publishes "online" on its status topic.
package discovery
