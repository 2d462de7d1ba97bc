// Package panel serves the scanner dashboard as an embedded asset.
//
// The dashboard is a single static page that polls /api/status and
// /api/devices and drives scan start/stop and clear through the REST API.
// All API URLs are relative, so the page works behind the Home Assistant
// ingress path prefix.
//
// Handler serves the embedded copy, or a directory on disk when one is
// configured, with SPA fallback: unknown paths return index.html.
package panel
