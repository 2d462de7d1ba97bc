// Package api implements the HTTP API and device event stream of the
// BLE scanner.
//
// Routes (all under /api):
//
//	GET    /health            dependency checks, 503 when a required one fails
//	GET    /status            scanner, proxy and broker state
//	GET    /devices           every device, sorted by MAC
//	GET    /devices/{mac}     one device
//	POST   /devices/{mac}     add or overwrite a manual device
//	DELETE /devices/{mac}     remove a device
//	POST   /devices/clear     remove every device
//	POST   /scan/start        start the proxy ingestion loops
//	POST   /scan/stop         stop them
//	GET    /ws                WebSocket stream of registry events
//
// Everything else is served by the embedded dashboard.
//
// # Security
//
// When security.jwt.secret is set, the mutating routes require an HS256
// bearer token (see GenerateToken). Reads stay open so Home Assistant
// ingress and the dashboard keep working without credentials.
//
// # Errors
//
// Every error response has the shape {"error":{"code":...,"message":...}}.
package api
