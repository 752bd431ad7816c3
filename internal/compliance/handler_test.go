package compliance_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/shared"
)

func newTriggerRouter(f *fixture, secret string) http.Handler {
	h := compliance.NewHandler(f.processor, f.store, secret, nil)
	r := chi.NewRouter()
	h.MountTrigger(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctx := shared.ContextWithPrincipal(req.Context(), shared.Principal{BusinessID: f.business, Actor: "token:test"})
				next.ServeHTTP(w, req.WithContext(ctx))
			})
		})
		h.MountTenantRoutes(r)
	})
	return r
}

func TestProcessTriggerRequiresSecret(t *testing.T) {
	f := newFixture(t, stubSigner{})
	f.enqueue("<a/>")

	for _, tc := range []struct {
		name, secret, header string
	}{
		{name: "missing header", secret: "s3cret"},
		{name: "wrong header", secret: "s3cret", header: "nope"},
		{name: "trigger disabled", secret: "", header: ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/compliance/process", nil)
			if tc.header != "" {
				req.Header.Set(compliance.ProcessSecretHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			newTriggerRouter(f, tc.secret).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Equal(t, compliance.StatusQueued, f.store.Jobs()[0].Status)
}

func TestProcessTriggerRunsBatch(t *testing.T) {
	f := newFixture(t, stubSigner{})
	f.enqueue("<a/>")
	f.enqueue("<b/>")

	req := httptest.NewRequest(http.MethodPost, "/compliance/process", nil)
	req.Header.Set(compliance.ProcessSecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	newTriggerRouter(f, "s3cret").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		OK        bool `json:"ok"`
		Processed int  `json:"processed"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.OK)
	assert.Equal(t, 2, body.Processed)
}

func TestProcessTriggerConfigurationError(t *testing.T) {
	f := newFixture(t, stubSigner{})
	f.authority.noEndpoint = true

	req := httptest.NewRequest(http.MethodPost, "/compliance/process", nil)
	req.Header.Set(compliance.ProcessSecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	newTriggerRouter(f, "s3cret").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListJobsScopedToBusiness(t *testing.T) {
	f := newFixture(t, stubSigner{})
	f.enqueue("<a/>")
	f.enqueue("<b/>")
	f.store.Enqueue(uuidForeign, uuidForeign, compliance.JobReport)

	rec := httptest.NewRecorder()
	newTriggerRouter(f, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/compliance/jobs?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []compliance.Job `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, f.business, body.Jobs[0].BusinessID)

	rec = httptest.NewRecorder()
	newTriggerRouter(f, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/compliance/jobs?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
