package res

import (
	"encoding/json"
	"io"
	"net/http"
)

func Json(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// Text writes a bare plain-text body. The chat platform's webhook
// contract wants a fast 200 with no JSON envelope.
func Text(w http.ResponseWriter, body string, statusCode int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = io.WriteString(w, body)
}

func Error(w http.ResponseWriter, msg string, statusCode int) {
	Json(w, map[string]any{"error": msg}, statusCode)
}
