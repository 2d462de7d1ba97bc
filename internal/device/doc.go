// Package device provides the BLE device registry.
//
// The registry is the single catalogue of every peripheral the scanner has
// heard, keyed by canonical MAC address (uppercase, colon separated). Proxy
// transports feed it advertisements through Upsert; the REST API adds,
// removes and clears records; a Store keeps the table across restarts.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                         Device Registry                          │
//	│                                                                  │
//	│  ┌──────────────────┐    ┌──────────────────┐                   │
//	│  │     Registry     │    │      Store       │                   │
//	│  │  (registry.go)   │───▶│    (store.go)    │                   │
//	│  │                  │    │                  │                   │
//	│  │ • Upsert/merge   │    │ • FileStore      │                   │
//	│  │ • Manual entries │    │ • SQLiteStore    │                   │
//	│  │ • Change events  │    │ • RedisStore     │                   │
//	│  └──────────────────┘    └──────────────────┘                   │
//	│           │                                                      │
//	└───────────│──────────────────────────────────────────────────────┘
//	            ▼
//	  Listeners: MQTT discovery, InfluxDB RSSI, WebSocket hub
//
// # Merge rules
//
// A new MAC creates a record with seen_count 1 and first_seen = last_seen.
// Later advertisements advance last_seen, increment seen_count and replace
// rssi. Name, manufacturer, services and source are replaced only by
// non-empty values, and the name never changes on a record added manually.
//
// # Persistence
//
// Persistence is advisory. Store failures are logged, counted in Stats and
// returned wrapped in ErrPersistence, but the in-memory table stays
// authoritative. Manual writes persist immediately; advertisements mark
// the table dirty and RunPersistence flushes it on an interval.
//
// # Usage
//
//	registry := device.NewRegistry(device.NewFileStore("/data/ble_devices/devices.json"))
//	registry.SetLogger(log)
//	if err := registry.Load(ctx); err != nil {
//	    log.Warn("starting with empty registry", "error", err)
//	}
//	go registry.RunPersistence(ctx, 5*time.Second, 0)
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Returned devices are
// deep copies.
package device
