package server

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorWithCode writes an error response with a specific status code
func errorWithCode(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Code: code, Message: message})
}
