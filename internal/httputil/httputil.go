// Package httputil provides small HTTP helpers shared by the backend
// client and the diagnostics surface, modeled on the reference
// platform's infrastructure/httputil package.
package httputil

import (
	"encoding/json"
	"net"
	"net/http"
	"time"
)

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard JSON error envelope for the diagnostics
// surface.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standard JSON error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// NewClient builds an *http.Client with the given connect/read/write
// timeouts, matching the specification's 5s/10s/10s defaults.
func NewClient(connectTimeout, readWriteTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readWriteTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   connectTimeout + readWriteTimeout,
	}
}

// CopyWithTimeout returns a shallow copy of base with its Timeout set,
// never mutating the caller-provided client. If base is nil, a new
// client is returned.
func CopyWithTimeout(base *http.Client, timeout time.Duration, force bool) *http.Client {
	if base == nil {
		return &http.Client{Timeout: timeout}
	}
	copied := *base
	if copied.Timeout == 0 || force {
		copied.Timeout = timeout
	}
	return &copied
}
