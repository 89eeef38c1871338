package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds the database ping made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// Firmware update check, polled by meters (no auth required)
		r.Get("/firmware/check", s.handleFirmwareCheck)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/summary", s.handleSummary)

			// Device endpoints. GET, PATCH and OTA address a meter by
			// serial; DELETE takes the numeric row id.
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleRegisterDevice)

				r.Route("/{device}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Post("/ota", s.handleSendOTA)
				})
			})

			// Reading endpoints
			r.Route("/readings/{serial}", func(r chi.Router) {
				r.Get("/", s.handleRecentReadings)
				r.Get("/latest", s.handleLatestReading)
				r.Get("/stats", s.handleStats)
			})
		})

		// WebSocket accepts the token as a query parameter as well
		r.Group(func(r chi.Router) {
			r.Use(s.wsAuthMiddleware)
			r.Get(s.wsRoute(), s.handleWebSocket)
		})
	})

	return r
}

func (s *Server) wsRoute() string {
	if s.wsCfg.Path != "" {
		return s.wsCfg.Path
	}
	return "/ws"
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	MQTT     string `json:"mqtt"`
	InfluxDB string `json:"influxdb"`
}

// handleHealth returns the server health status. The response is 503 only
// when the database is unreachable; broker and mirror state are reported
// but do not fail the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Database: "ok",
		MQTT:     linkState(s.mqtt),
		InfluxDB: linkState(s.influx),
	}

	if s.db == nil {
		resp.Database = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type connectable interface {
	IsConnected() bool
}

func linkState(c connectable) string {
	if c == nil {
		return "disabled"
	}
	if c.IsConnected() {
		return "connected"
	}
	return "disconnected"
}
