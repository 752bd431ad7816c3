package certificates

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/platform/httpx"
	"github.com/fawtara/fawtara/internal/shared"
)

// Handler exposes certificate lifecycle endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers routes on a tenant-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/compliance/certificates", h.list)
	r.Post("/compliance/certificates", h.create)
	r.Post("/compliance/certificates/{id}/activate", h.activate)
}

type certificateView struct {
	ID              uuid.UUID  `json:"id"`
	Type            string     `json:"type"`
	Status          Status     `json:"status"`
	PublicKey       string     `json:"publicKey"`
	CSID            *string    `json:"csid,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	ReissueRequired bool       `json:"reissueRequired"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrNoPrincipal)
		return
	}
	certs, err := h.service.List(r.Context(), p.BusinessID)
	if err != nil {
		h.logger.Error("list certificates", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]certificateView, 0, len(certs))
	for _, c := range certs {
		v := certificateView{
			ID:              c.ID,
			Type:            c.Type,
			Status:          c.Status,
			PublicKey:       c.PublicKey,
			CSID:            c.CSID,
			ExpiresAt:       c.ExpiresAt,
			ReissueRequired: c.ReissueRequired,
			CreatedAt:       c.CreatedAt,
		}
		out = append(out, v)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "certificates": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrNoPrincipal)
		return
	}
	var req KeypairRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	req.BusinessID = p.BusinessID
	res, err := h.service.GenerateKeypair(r.Context(), req)
	if err != nil {
		h.logger.Warn("generate keypair", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrNoPrincipal)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, ErrNotFound)
		return
	}
	var req ActivateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	req.CertificateID = id
	if _, err := h.service.Activate(r.Context(), p.BusinessID, p.Actor, req); err != nil {
		h.logger.Warn("activate certificate", slog.Any("error", err), slog.String("certificate_id", id.String()))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}
