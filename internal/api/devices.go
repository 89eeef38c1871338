package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meterlink/meterlink-core/internal/query"
)

// handleListDevices returns the caller's devices, newest first.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.query.ListDevicesByOwner(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleRegisterDevice creates a device owned by the caller, or claims an
// unowned one that ingestion already discovered.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var in query.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.query.RegisterDevice(r.Context(), ownerFrom(r.Context()), in)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dev)
}

// handleGetDevice returns one of the caller's devices by serial.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.query.GetDevice(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "device"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleUpdateDevice partially updates a device. Absent fields keep their
// stored values.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var in query.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.query.UpdateDevice(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "device"), in)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device by numeric id.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "device"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "device id must be a positive integer")
		return
	}

	if err := s.query.DeleteDevice(r.Context(), ownerFrom(r.Context()), id); err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// OTARequest is the body of POST /devices/{serial}/ota.
type OTARequest struct {
	URL string `json:"url"`
}

// handleSendOTA records a firmware URL on the device and publishes it to
// the meter's control topic.
func (s *Server) handleSendOTA(w http.ResponseWriter, r *http.Request) {
	var req OTARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.query.SendOTA(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "device"), req.URL)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent", "device": dev})
}

// handleSummary returns global device and reading totals.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.query.Summary(r.Context())
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
