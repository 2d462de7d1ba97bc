// Package proxy keeps a connection open to each configured BLE proxy and
// feeds the advertisements it receives into the device registry.
//
// Each endpoint runs its own Loop. A Loop connects through a ProxyClient,
// subscribes to the advertisement stream and, on any failure, disconnects
// and waits a fixed backoff (plus optional jitter) before trying again. It
// never gives up; only context cancellation ends it.
//
// Three transports are provided, chosen per endpoint in configuration:
//
//   - WebSocketClient: ESP32 proxies streaming JSON advertisements
//   - HTTPPollClient: proxies exposing a REST list of recent devices
//   - AdapterClient: a local HCI adapter via tinygo.org/x/bluetooth
//
// Manager owns the set of loops and implements the scan start/stop
// operations exposed by the API.
package proxy
