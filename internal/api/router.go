package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/ble-scanner/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID, s.accessLog, s.recoverPanics, s.cors, limitBody)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			fail(w, http.StatusNotFound, "no such endpoint")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
			fail(w, http.StatusMethodNotAllowed, "method not allowed")
		})

		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{mac}", s.handleGetDevice)

		// Mutating routes
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Post("/devices/clear", s.handleClearDevices)
			r.Post("/devices/{mac}", s.handleAddDevice)
			r.Delete("/devices/{mac}", s.handleDeleteDevice)

			r.Post("/scan/start", s.handleScanStart)
			r.Post("/scan/stop", s.handleScanStop)
		})

		if sub, ok := strings.CutPrefix(wsPath, "/api/"); ok {
			r.Get("/"+sub, s.handleWebSocket)
		}
	})

	if !strings.HasPrefix(wsPath, "/api/") {
		r.Get(wsPath, s.handleWebSocket)
	}

	// Dashboard, with SPA fallback for everything else.
	r.Handle("/*", panel.Handler(s.cfg.PanelDir))

	return r
}
