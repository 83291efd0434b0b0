package middleware

import (
	"encoding/json"
	"net/http"
)

type errorEnvelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// writeJSONError writes a failure envelope with the correct Content-Type.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Success: false, Message: msg, ErrorCode: code})
}
