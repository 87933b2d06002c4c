package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-hr-clearance/internal/logger"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig collects what NewRouter needs besides the handler.
type RouterConfig struct {
	Auth     *Authenticator
	Health   Pinger
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
	Log      *logger.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(h *HTTPHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	if cfg.Timeout > 0 {
		r.Use(middleware.Timeout(cfg.Timeout))
	}

	r.Get("/health", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(cfg.Auth.Middleware)

		api.Get("/catalog", h.GetCatalog)
		api.Post("/clearances", h.CreateRequest)
		api.Route("/clearances/{id}", func(c chi.Router) {
			c.Get("/status", h.GetStatus)
			c.Get("/steps", h.ListSteps)
			c.Get("/history", h.GetHistory)
			c.Post("/bookends/{tag}", h.SignBookend)
			c.Post("/archive", h.ArchiveRequest)
		})
		api.Post("/steps/{stepID}/resolve", h.ResolveStep)
	})
	return r
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("HTTP request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
