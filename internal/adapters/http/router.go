package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
)

const serviceName = "M91-License-Service"

// Metrics is the HTTP view of the metrics registry.
type Metrics interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
	Handler() http.Handler
}

// Options tunes the router. Zero values disable the corresponding feature.
type Options struct {
	Metrics        Metrics
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handler is the HTTP adapter entrypoint for license use-cases.
type Handler struct {
	service  *application.Service
	validate *validator.Validate
	ready    func(ctx context.Context) error
	logger   *slog.Logger
}

// NewHandler constructs an HTTP handler bound to application service. ready
// reports whether backing stores answer; nil means always ready.
func NewHandler(service *application.Service, ready func(ctx context.Context) error) *Handler {
	return &Handler{
		service:  service,
		validate: newValidator(),
		ready:    ready,
		logger: slog.Default().With(
			"service", serviceName,
			"module", "http",
			"layer", "adapter",
		),
	}
}

// NewRouter registers the license HTTP routes and middleware stack.
func NewRouter(handler *Handler, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(handler.logger))
	r.Use(loggingMiddleware(handler.logger))
	if opts.Metrics != nil {
		r.Use(metricsMiddleware(opts.Metrics))
	}

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/order", func(r chi.Router) {
		if opts.RateLimitRPS > 0 {
			r.Use(newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, 10*time.Minute).middleware(handler.logger))
		}
		r.Post("/bind", handler.bind)
		r.Post("/is-valid", handler.isValid)
		r.Post("/check-order-exist", handler.checkOrderExist)
		r.Post("/sub-check", handler.subCheck)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/setup-totp", handler.setupTOTP)
			r.Post("/confirm-totp", handler.confirmTOTP)
			r.Post("/login", handler.login)
			r.Post("/send-email-code", handler.sendEmailCode)
			r.Post("/rebind", handler.rebind)
		})
	})

	return r
}
