// Package httptransport assembles the relay's HTTP surface: global middleware,
// module handlers, the WebSocket endpoint, health and metrics.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"relay/internal/platform/metrics"
	"relay/internal/platform/middleware"
	"relay/pkg/platform/middleware/metadata"
	"relay/pkg/platform/middleware/request"
	"relay/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by module handlers.
type Registrar interface {
	Register(r chi.Router)
}

// Config carries the cross-cutting pieces of the router.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// WebSocket serves GET /ws when set.
	WebSocket http.Handler
	Health    *Health
	// RequestTimeout bounds non-WebSocket requests; zero disables it.
	RequestTimeout time.Duration
}

// NewRouter wires the global middleware chain and mounts every registrar.
func NewRouter(cfg Config, registrars ...Registrar) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.AccessLog(cfg.Logger, cfg.Metrics))
	r.Use(chimw.Recoverer)

	if cfg.WebSocket != nil {
		// upgraded connections outlive any request timeout
		r.Method(http.MethodGet, "/ws", cfg.WebSocket)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}
	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		for _, reg := range registrars {
			reg.Register(r)
		}
	})
	return r
}
