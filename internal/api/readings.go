package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleRecentReadings returns the newest readings for a meter, newest first.
//
// Query parameters:
//   - limit: number of readings (default and maximum come from config)
func (s *Server) handleRecentReadings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	readings, err := s.query.RecentReadings(r.Context(), chi.URLParam(r, "serial"), limit)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// handleLatestReading returns the newest reading, or {} when the meter has
// never reported.
func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	reading, err := s.query.LatestReading(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	if reading == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleStats returns dense per-bucket aggregates for a calendar window.
//
// Query parameters:
//   - mode: day, week, month or year (default day)
//   - start: YYYY-MM-DD in the display zone, or RFC 3339 (default today)
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	series, err := s.query.AggregatedStats(r.Context(), chi.URLParam(r, "serial"), q.Get("mode"), q.Get("start"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}
