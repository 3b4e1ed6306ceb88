// Package response writes the JSON envelope shared by every API endpoint.
//
// A reply carries either data or an error:
//
//	{"ok":true,"data":{...}}
//	{"ok":false,"error":{"code":"not_found","message":"..."}}
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeInvalidRequest     Code = "invalid_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeSyncInProgress     Code = "sync_in_progress"
	CodeRateLimited        Code = "rate_limited"
	CodeTooManyConnections Code = "too_many_connections"
	CodeInternal           Code = "internal"
)

type Envelope struct {
	OK    bool      `json:"ok"`
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Warn("failed to write response", "status", status, "error", err)
	}
}

// Write sends data with the given status.
func Write(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{OK: true, Data: data})
}

func OK(w http.ResponseWriter, data any) {
	Write(w, http.StatusOK, data)
}

// Accepted acknowledges work that finishes after the reply.
func Accepted(w http.ResponseWriter, data any) {
	Write(w, http.StatusAccepted, data)
}

// Fail sends an error envelope.
func Fail(w http.ResponseWriter, status int, code Code, message string) {
	write(w, status, Envelope{Error: &APIError{Code: code, Message: message}})
}

func InvalidRequest(w http.ResponseWriter, message string) {
	Fail(w, http.StatusBadRequest, CodeInvalidRequest, message)
}

func Unauthorized(w http.ResponseWriter, message string) {
	Fail(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Fail(w, http.StatusNotFound, CodeNotFound, message)
}

func Internal(w http.ResponseWriter, message string) {
	Fail(w, http.StatusInternalServerError, CodeInternal, message)
}
