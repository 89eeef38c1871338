package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meterlink/meterlink-core/internal/query"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: Error{
		Status:  status,
		Code:    code,
		Message: message,
	}})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeQueryError maps a façade error onto an HTTP status. Internal
// details are logged, never returned.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	message := "internal server error"
	var qerr *query.Error
	if errors.As(err, &qerr) {
		message = qerr.Message
	}

	switch query.KindOf(err) {
	case query.KindNotFound:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
	case query.KindForbidden:
		writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
	case query.KindConflict:
		writeError(w, http.StatusConflict, ErrCodeConflict, message)
	case query.KindInvalid:
		writeBadRequest(w, message)
	case query.KindUnavailable:
		s.logger.Warn("request failed: dependency unavailable",
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
	}
}
