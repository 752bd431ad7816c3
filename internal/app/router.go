package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fawtara/fawtara/internal/certificates"
	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/invoices"
	"github.com/fawtara/fawtara/internal/observability"
	"github.com/fawtara/fawtara/internal/platform/httpx"
	"github.com/fawtara/fawtara/internal/platform/ratelimit"
	"github.com/fawtara/fawtara/internal/tenant"
	"github.com/fawtara/fawtara/jobs"
)

// Per-route budgets.
const (
	statusLimit      = 60
	paymentLinkLimit = 30
	certificateLimit = 5
	limitWindow      = time.Minute
)

// Pinger reports dependency health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Metrics            *observability.Metrics
	Limiter            *ratelimit.Limiter
	Resolver           *tenant.Resolver
	InvoiceHandler     *invoices.Handler
	CertificateHandler *certificates.Handler
	ComplianceHandler  *compliance.Handler
	JobHandler         *jobs.Handler
	DB                 Pinger
}

// NewRouter constructs the chi.Router with the API's defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB != nil {
			if err := params.DB.Ping(r.Context()); err != nil {
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.ComplianceHandler != nil {
		params.ComplianceHandler.MountTrigger(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		if params.Resolver != nil {
			r.Use(params.Resolver.Require)
		}
		if params.InvoiceHandler != nil {
			r.Route("/invoices", func(r chi.Router) {
				params.InvoiceHandler.MountRoutes(r, invoices.RouteLimits{
					Status:      limit(params.Limiter, "invoice-status", statusLimit),
					PaymentLink: limit(params.Limiter, "payment-link", paymentLinkLimit),
				})
			})
		}
		if params.CertificateHandler != nil {
			r.Group(func(r chi.Router) {
				if mw := limit(params.Limiter, "certificates", certificateLimit); mw != nil {
					r.Use(mw)
				}
				params.CertificateHandler.MountRoutes(r)
			})
		}
		if params.ComplianceHandler != nil {
			params.ComplianceHandler.MountTenantRoutes(r)
		}
	})

	return r
}

func limit(l *ratelimit.Limiter, name string, n int) func(http.Handler) http.Handler {
	if l == nil {
		return nil
	}
	return l.Middleware(name, n, limitWindow)
}
