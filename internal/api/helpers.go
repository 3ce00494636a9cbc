package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/monitor"
	"grimm.is/warden/internal/stats"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError sends a JSON error response
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	WriteJSON(w, code, resp)
}

// WriteJSON sends a JSON success response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, stats.ErrUnknownKind),
		errors.Is(err, monitor.ErrStatsDisabled),
		errors.Is(err, monitor.ErrNoStore):
		return http.StatusNotFound
	case errors.Is(err, firewall.ErrUnavailable),
		errors.Is(err, exposure.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
