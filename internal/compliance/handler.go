package compliance

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fawtara/fawtara/internal/platform/httpx"
	"github.com/fawtara/fawtara/internal/shared"
)

// ProcessSecretHeader authenticates the processing trigger.
const ProcessSecretHeader = "X-Process-Secret"

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Handler exposes the processing trigger and the job listing.
type Handler struct {
	processor *Processor
	store     Store
	secret    string
	logger    *slog.Logger
}

// NewHandler constructs a handler. An empty secret disables the trigger.
func NewHandler(processor *Processor, store Store, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: processor, store: store, secret: secret, logger: logger}
}

// MountTrigger registers the shared-secret protected processing endpoint.
func (h *Handler) MountTrigger(r chi.Router) {
	r.Post("/compliance/process", h.process)
}

// MountTenantRoutes registers routes that need a resolved business.
func (h *Handler) MountTenantRoutes(r chi.Router) {
	r.Get("/compliance/jobs", h.listJobs)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid "+ProcessSecretHeader)
		return
	}
	res, err := h.processor.ProcessBatch(r.Context())
	if err != nil {
		h.logger.Error("process compliance batch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "processed": res.Processed})
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	got := r.Header.Get(ProcessSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrNoPrincipal)
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	jobs, err := h.store.List(r.Context(), p.BusinessID, limit)
	if err != nil {
		h.logger.Error("list compliance jobs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "jobs": jobs})
}
