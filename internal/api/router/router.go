package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/booking"
	"github.com/wolfman30/practice-booking/internal/coupons"
	httpmiddleware "github.com/wolfman30/practice-booking/internal/http/middleware"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger         *logging.Logger
	Booking        *booking.Handler
	Coupons        *coupons.Handler
	Audit          *audit.Handler
	StripeWebhook  *payments.StripeWebhookHandler
	FakePayments   *payments.FakeHandler
	MetricsHandler http.Handler
	HealthChecks   map[string]HealthCheck

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// New creates the HTTP router.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	// Public endpoints; no tenant header required.
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.FakePayments != nil {
			public.Mount("/payments/fake", cfg.FakePayments.Routes())
		}
	})

	if cfg.Audit != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(optionalOrgID)
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/appointments/{id}/audit", cfg.Audit.AppointmentHistory)
		})
	}

	r.Group(func(tenant chi.Router) {
		tenant.Use(requireOrgID)
		if cfg.RateLimitRPS > 0 {
			tenant.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}
		if cfg.Booking != nil {
			cfg.Booking.Routes(tenant)
		}
		if cfg.Coupons != nil {
			tenant.Post("/coupons/validate", cfg.Coupons.Validate)
		}
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler runs every check with a short deadline; any failure turns
// the response into a 503.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
