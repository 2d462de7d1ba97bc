package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/ble-scanner/internal/proxy"
)

// healthCheckTimeout bounds each dependency probe of GET /api/health.
const healthCheckTimeout = 3 * time.Second

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Running       bool                   `json:"running"`
	DeviceCount   int                    `json:"device_count"`
	ProxyCount    int                    `json:"proxy_count"`
	ScanInterval  float64                `json:"scan_interval"`
	MQTTEnabled   bool                   `json:"mqtt_enabled"`
	MQTTConnected bool                   `json:"mqtt_connected"`
	Proxies       []proxy.EndpointStatus `json:"proxies"`
	Version       string                 `json:"version"`
	Uptime        string                 `json:"uptime"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleScanStart starts the ingestion loops.
func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	err := s.scanner.Start(s.scanContext())
	switch {
	case err == nil:
		s.logger.Info("scan started via API", "by", subjectFrom(r.Context()))
		writeMessage(w, "Scan started")
	case errors.Is(err, proxy.ErrAlreadyRunning):
		writeMessage(w, "Scan already running")
	default:
		s.logger.Error("starting scan failed", "error", err)
		fail(w, http.StatusInternalServerError, "failed to start scan")
	}
}

// handleScanStop stops the ingestion loops.
func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	err := s.scanner.Stop()
	switch {
	case err == nil:
		s.logger.Info("scan stopped via API", "by", subjectFrom(r.Context()))
		writeMessage(w, "Scan stopped")
	case errors.Is(err, proxy.ErrNotRunning):
		writeMessage(w, "Scan already stopped")
	default:
		s.logger.Error("stopping scan failed", "error", err)
		fail(w, http.StatusInternalServerError, "failed to stop scan")
	}
}

// handleStatus reports scanner, proxy and broker state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	proxies := s.scanner.Statuses()
	if proxies == nil {
		proxies = []proxy.EndpointStatus{}
	}

	resp := StatusResponse{
		Running:      s.scanner.Running(),
		DeviceCount:  s.registry.Count(),
		ProxyCount:   s.scanner.Endpoints(),
		ScanInterval: s.scanInterval.Seconds(),
		MQTTEnabled:  s.mqtt != nil,
		Proxies:      proxies,
		Version:      s.version,
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.mqtt != nil {
		resp.MQTTConnected = s.mqtt.IsConnected()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth runs every registered check. Any failing required check
// makes the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	status := http.StatusOK

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}

	for _, hc := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.Check(ctx)
		cancel()

		if err == nil {
			resp.Checks[hc.Name] = "ok"
			continue
		}

		resp.Checks[hc.Name] = err.Error()
		if hc.Optional {
			continue
		}
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
