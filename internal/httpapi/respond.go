package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"taskdeck/internal/logx"
)

// writeData writes a success envelope: {"data": v}.
func writeData(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": v}); err != nil {
		logx.Event("error", "response_encode_failed", logx.Fields{"error": err.Error()})
	}
}

// writeJSON writes v as-is, for endpoints whose shape the frontend
// consumes without the data envelope.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Event("error", "response_encode_failed", logx.Fields{"error": err.Error()})
	}
}

// writeError writes an error envelope: {"error": {"code", "message"}}.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// writeRateLimited is writeError plus a retry hint, mirrored in the
// Retry-After header for well-behaved clients.
func writeRateLimited(w http.ResponseWriter, code, message string, retryAfterSeconds int) {
	if retryAfterSeconds < 0 {
		retryAfterSeconds = 0
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{
			"code":        code,
			"message":     message,
			"retry_after": retryAfterSeconds,
		},
	})
}
