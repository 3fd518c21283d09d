// Package httpserver contains HTTP handlers and middleware for the intake
// API — the only externally reachable write path into the queue
// (spec.md §4.7).
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy (domain/errors.go) onto HTTP
// status codes and a stable error code string.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = http.StatusBadRequest
		codeStr = "VALIDATION"
	case errors.Is(err, domain.ErrUnsupportedRequestType):
		code = http.StatusBadRequest
		codeStr = "UNSUPPORTED_REQUEST_TYPE"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrResourceTimeout):
		code = http.StatusServiceUnavailable
		codeStr = "RESOURCE_TIMEOUT"
	case errors.Is(err, domain.ErrBackendUsageLimit):
		code = http.StatusTooManyRequests
		codeStr = "BACKEND_USAGE_LIMIT"
	case errors.Is(err, domain.ErrBackendTransient), errors.Is(err, domain.ErrBackendMisbehaviour):
		code = http.StatusBadGateway
		codeStr = "BACKEND_ERROR"
	case errors.Is(err, domain.ErrStore), errors.Is(err, domain.ErrSideEffect):
		code = http.StatusInternalServerError
		codeStr = "STORE_ERROR"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
