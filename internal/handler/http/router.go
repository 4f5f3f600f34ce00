package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leasehub/tenantauth/pkg/health"
	"github.com/leasehub/tenantauth/pkg/middleware"
)

// RouterConfig carries the dependencies of NewRouter.
type RouterConfig struct {
	ServiceName string
	WhatsApp    *WhatsAppHandler
	Session     *SessionHandler
	Validator   middleware.TokenValidator
	Health      *health.Handler
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	IPLimiter   *middleware.IPRateLimiter
	CORS        middleware.CORSConfig
	Logger      *slog.Logger
}

// NewRouter creates a chi router with all tenant auth routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Handler)
	}
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// WhatsApp sign-in (public, throttled per client IP)
	r.Route("/whatsapp", func(r chi.Router) {
		if cfg.IPLimiter != nil {
			r.Use(cfg.IPLimiter.Middleware(cfg.Logger))
		}
		r.Post("/signin", cfg.WhatsApp.SignIn)
		r.Get("/signedin", cfg.WhatsApp.SignedIn)
	})

	r.Route("/session", func(r chi.Router) {
		r.With(middleware.Auth(cfg.Validator, SessionCookie)).Get("/", cfg.Session.Get)
		r.Delete("/", cfg.Session.Delete)
	})

	return r
}
