package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ble-scanner/internal/device"
)

// clearResponse is the body of POST /api/devices/clear.
type clearResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

// handleListDevices returns every device sorted by MAC.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sortedDevices())
}

func (s *Server) sortedDevices() []*device.Device {
	devices := s.registry.List()
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].MACAddress < devices[j].MACAddress
	})
	return devices
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}

	d, found := s.registry.Get(mac)
	if !found {
		fail(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleAddDevice creates or overwrites a manual device record.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}

	var fields device.ManualFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			fail(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &tooLarge):
			fail(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			fail(w, http.StatusBadRequest, "invalid JSON body")
		}
		return
	}

	d, err := s.registry.AddManual(r.Context(), mac, fields)
	if err != nil {
		if errors.Is(err, device.ErrInvalidInput) {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("adding device failed", "mac", mac, "error", err)
		fail(w, http.StatusInternalServerError, "failed to add device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device from the registry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}

	if !s.registry.Remove(r.Context(), mac) {
		fail(w, http.StatusNotFound, "device not found")
		return
	}
	s.logger.Info("device removed via API", "mac", mac, "by", subjectFrom(r.Context()))
	writeMessage(w, "Device removed")
}

// handleClearDevices empties the registry.
func (s *Server) handleClearDevices(w http.ResponseWriter, r *http.Request) {
	removed := s.registry.Clear(r.Context())
	s.logger.Info("devices cleared via API", "removed", removed, "by", subjectFrom(r.Context()))
	writeJSON(w, http.StatusOK, clearResponse{
		Message: "Devices cleared",
		Removed: removed,
	})
}

// macParam reads and normalises the {mac} URL parameter, writing a 400
// response when it is malformed.
func macParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	mac, err := device.NormalizeMAC(chi.URLParam(r, "mac"))
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid MAC address")
		return "", false
	}
	return mac, true
}
