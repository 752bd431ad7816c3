package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func chain(h http.Handler, cfg MiddlewareConfig) http.Handler {
	mws := MiddlewareStack(cfg)
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestMiddlewareStackLimitsBody(t *testing.T) {
	var readErr error
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}), MiddlewareConfig{Config: &Config{AppMaxBodyBytes: 16}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(strings.Repeat("x", 17))))
	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader("small")))
	assert.NoError(t, readErr)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareStackSetsRequestID(t *testing.T) {
	var id string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = middleware.GetReqID(r.Context())
	}), MiddlewareConfig{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, id)
}
