package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError uses the same envelope as the API handlers so clients parse one shape.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
