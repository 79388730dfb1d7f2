package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tiagoc-santos/DataBase-Project/internal/appointment"
	"github.com/tiagoc-santos/DataBase-Project/internal/metrics"
)

// Scheduler is the part of appointment.Service the HTTP layer uses.
type Scheduler interface {
	Book(ctx context.Context, req appointment.Request) (*appointment.Appointment, error)
	Cancel(ctx context.Context, req appointment.Request) error
	Availability(ctx context.Context, clinic, specialty string) ([]appointment.Slot, error)
	Clinics(ctx context.Context) ([]appointment.Clinic, error)
	Specialties(ctx context.Context, clinic string) ([]string, error)
}

type RouterConfig struct {
	Service         Scheduler
	Health          *HealthHandler
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer
	Logger          zerolog.Logger
	RateLimitPerMin int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Discovery endpoints
	r.Get("/", listClinicsHandler(cfg.Service))
	r.Get("/c/{clinic}", listSpecialtiesHandler(cfg.Service))
	r.Get("/c/{clinic}/{specialty}", availabilityHandler(cfg.Service, cfg.Metrics))

	// Appointment endpoints
	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}
		r.Post("/a/{clinic}/registar", bookHandler(cfg.Service, cfg.Metrics))
		r.Post("/a/{clinic}/cancelar", cancelHandler(cfg.Service, cfg.Metrics))
	})

	return r
}
