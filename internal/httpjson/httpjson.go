// Package httpjson writes the JSON responses shared by handlers and
// middleware. Errors use the {"detail": "..."} shape.
package httpjson

import (
	"encoding/json"
	"net/http"
)

func Write(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func Error(w http.ResponseWriter, status int, detail string) {
	Write(w, status, map[string]string{"detail": detail})
}
