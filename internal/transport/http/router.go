// Package httptransport assembles the public router from the module handlers.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	audithandler "keepsake/internal/audit/handler"
	consenthandler "keepsake/internal/consent/handler"
	memoryhandler "keepsake/internal/memory/handler"
	"keepsake/internal/platform/health"
	ratelimitmw "keepsake/internal/ratelimit/middleware"
	"keepsake/internal/ratelimit/models"
	synchandler "keepsake/internal/reconcile/handler"
	"keepsake/pkg/platform/middleware/auth"
	"keepsake/pkg/platform/middleware/device"
	"keepsake/pkg/platform/middleware/request"
	"keepsake/pkg/platform/middleware/requesttime"
	"keepsake/pkg/platform/validation"
)

// Handlers are the route groups the router mounts. A nil handler is skipped.
type Handlers struct {
	Health  *health.Handler
	Consent *consenthandler.Handler
	Memory  *memoryhandler.Handler
	Audit   *audithandler.Handler
	Sync    *synchandler.Handler
}

type Config struct {
	RequestTimeout time.Duration
	// MaxSyncBodyBytes caps sync batches; every other route is capped at
	// validation.MaxBodySize.
	MaxSyncBodyBytes int64
	Validator        auth.ActorValidator
	// RateLimit is optional; nil leaves every route unlimited.
	RateLimit *ratelimitmw.Middleware
	Metrics   *request.Metrics
	// MetricsHandler serves /metrics. Defaults to the default Prometheus registry.
	MetricsHandler http.Handler
}

// NewRouter wires the middleware stack and every endpoint. Health and metrics
// are public; everything under /v1 requires a human actor token.
func NewRouter(h Handlers, cfg Config, logger *slog.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxSyncBodyBytes <= 0 {
		cfg.MaxSyncBodyBytes = validation.MaxSyncBodySize
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(requesttime.Middleware)
	r.Use(device.Device)
	r.Use(request.Timeout(cfg.RequestTimeout))
	r.Use(request.ContentTypeJSON)
	r.Use(request.LatencyMiddleware(cfg.Metrics, routePattern))

	if h.Health != nil {
		h.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireActor(cfg.Validator, logger))

		r.Group(func(r chi.Router) {
			r.Use(request.BodyLimit(validation.MaxBodySize))
			r.Use(cfg.RateLimit.RateLimit(models.ClassAPI))
			if h.Consent != nil {
				h.Consent.Register(r)
			}
			if h.Memory != nil {
				h.Memory.Register(r)
			}
			if h.Audit != nil {
				h.Audit.Register(r)
			}
		})

		// A nested MaxBytesReader cannot raise an outer cap, so sync batches
		// get their own group.
		r.Group(func(r chi.Router) {
			r.Use(request.BodyLimit(cfg.MaxSyncBodyBytes))
			r.Use(cfg.RateLimit.RateLimit(models.ClassSync))
			if h.Sync != nil {
				h.Sync.Register(r)
			}
		})
	})

	return r
}

// routePattern labels latency by the matched chi pattern so path parameters
// do not explode metric cardinality.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
