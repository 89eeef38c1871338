package api

import "net/http"

// handleFirmwareCheck tells a meter whether a newer firmware image exists.
// Meters call it without a bearer token.
//
// Query parameters:
//   - device_id (or deviceId): the meter's device id
//   - current_version (or currentVersion): the running firmware version
func (s *Server) handleFirmwareCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	check, err := s.query.CheckFirmware(r.Context(),
		firstNonEmpty(q.Get("device_id"), q.Get("deviceId")),
		firstNonEmpty(q.Get("current_version"), q.Get("currentVersion")))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
