// Package httputil writes JSON responses and the shared error envelope.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"canon/pkg/platform/sentinel"
)

// Error codes returned in the "error" field of the envelope.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal_error"
)

// HTTPError carries a status and a client-facing code with its description.
type HTTPError struct {
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Description
}

func (e *HTTPError) Unwrap() error { return e.Err }

// BadRequest builds a 400 error with a description safe to show clients.
func BadRequest(description string) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Description: description}
}

// Unauthorized builds a 401 error.
func Unauthorized(description string) *HTTPError {
	return &HTTPError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Description: description}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the JSON error envelope. Internal errors
// never expose their description.
func WriteError(w http.ResponseWriter, err error) {
	herr := classify(err)
	body := map[string]string{"error": herr.Code}
	if herr.Status != http.StatusInternalServerError && herr.Description != "" {
		body["error_description"] = herr.Description
	}
	WriteJSON(w, herr.Status, body)
}

func classify(err error) *HTTPError {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Description: "resource not found"}
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrDuplicate):
		return &HTTPError{Status: http.StatusConflict, Code: CodeConflict, Description: "resource conflict"}
	case errors.Is(err, sentinel.ErrUnavailable):
		return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeUnavailable, Description: "service unavailable"}
	}
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal}
}
