// Package mqtt is the scanner's broker connection, built on
// eclipse/paho.mqtt.golang.
//
// MQTT is optional. When it is enabled the discovery publisher turns
// registry events into Home Assistant discovery configs and entity state:
//
//	Registry → discovery.Publisher → mqtt.Client → broker → Home Assistant
//
// The client retries the broker forever. It republishes the retained
// availability topic on every connect and leaves "offline" behind as its
// will. While there is no session, Publish fails fast with ErrNotConnected
// and the caller drops the message; nothing is queued.
//
// Topics builds every topic name, so the naming contract lives in one file:
//
//	homeassistant/sensor/blescanner_aabbccddeeff_rssi/config
//	blescanner/aabbccddeeff/rssi
//	blescanner/status
package mqtt
