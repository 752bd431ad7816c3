package invoices

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/platform/httpx"
	"github.com/fawtara/fawtara/internal/shared"
)

// Handler wires HTTP endpoints for invoices.
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

// RouteLimits are optional per-route middlewares, typically rate limits.
type RouteLimits struct {
	Status      func(http.Handler) http.Handler
	PaymentLink func(http.Handler) http.Handler
}

// MountRoutes registers routes on a tenant-scoped router.
func (h *Handler) MountRoutes(r chi.Router, limits RouteLimits) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/next-number", h.nextNumber)
	r.Get("/{id}", h.get)
	r.Get("/{id}/qr", h.qr)
	r.With(orPass(limits.Status)).Post("/{id}/status", h.transition)
	r.With(orPass(limits.PaymentLink)).Post("/{id}/payment-link", h.paymentLink)
}

func orPass(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	inv, err := h.service.Create(r.Context(), p, req)
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"ok":            true,
		"invoiceId":     inv.ID,
		"invoiceNumber": inv.Number,
		"status":        inv.Status,
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	inv, err := h.service.Transition(r.Context(), p, id, body.Status)
	if err != nil {
		h.fail(w, "transition invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "status": inv.Status})
}

func (h *Handler) paymentLink(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	var body struct {
		Link string `json:"link"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.service.SetPaymentLink(r.Context(), p.BusinessID, id, body.Link); err != nil {
		h.fail(w, "set payment link", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) nextNumber(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	next, err := h.service.NextNumber(r.Context(), p.BusinessID)
	if err != nil {
		h.fail(w, "next invoice number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"next": next})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), p.BusinessID, id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	if perPage <= 0 {
		perPage = defaultPageSize
	}
	perPage = min(perPage, maxPageSize)
	if page <= 0 {
		page = 1
	}
	items, total, err := h.service.List(r.Context(), p.BusinessID, ListFilter{
		Status: Status(q.Get("status")),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	if items == nil {
		items = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoices":   items,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) qr(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	payload, err := h.service.QR(r.Context(), p.BusinessID, id)
	if err != nil {
		h.fail(w, "invoice qr", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"qr": payload})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if _, ok := AsValidation(err); !ok {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func principal(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrNoPrincipal)
	}
	return p, ok
}

func invoiceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}
