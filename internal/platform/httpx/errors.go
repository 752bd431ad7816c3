// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("conflict")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrConfiguration = errors.New("server misconfigured")
)

// Extender lets an error contribute RFC7807 extension members to the response,
// e.g. the itemized field errors of a validation failure.
type Extender interface {
	ProblemExtensions() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var ext map[string]any
	var extender Extender
	if errors.As(err, &extender) {
		ext = extender.ProblemExtensions()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		ProblemWith(w, http.StatusNotFound, "Not Found", err.Error(), ext)
	case errors.Is(err, ErrDuplicate):
		ProblemWith(w, http.StatusConflict, "Duplicate", err.Error(), ext)
	case errors.Is(err, ErrValidation):
		ProblemWith(w, http.StatusBadRequest, "Validation Failed", err.Error(), ext)
	case errors.Is(err, ErrConflict):
		ProblemWith(w, http.StatusConflict, "Conflict", err.Error(), ext)
	case errors.Is(err, ErrForbidden):
		ProblemWith(w, http.StatusForbidden, "Forbidden", err.Error(), ext)
	case errors.Is(err, ErrUnauthorized):
		ProblemWith(w, http.StatusUnauthorized, "Unauthorized", err.Error(), ext)
	case errors.Is(err, ErrConfiguration):
		ProblemWith(w, http.StatusInternalServerError, "Configuration Error", err.Error(), nil)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
