// Package logx emits structured JSON event logs on the standard logger.
//
// User IDs are never logged raw — they are SHA-256 hashed so logs can be
// shipped without leaking account identifiers.
package logx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"
)

// Fields holds additional context for an event.
type Fields map[string]any

// Event writes one structured log line. Level is "info", "warning" or
// "error"; event is a short snake_case name like "chat_request_received".
func Event(level, event string, fields Fields) {
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"event":     event,
	}
	for k, v := range fields {
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		// Marshalling only fails on exotic field types; fall back to Go syntax.
		log.Printf("level=%s event=%s fields=%+v", level, event, fields)
		return
	}
	log.Print(string(data))
}

// HashUserID returns a short stable hash of a user ID for log output.
func HashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:16]
}
