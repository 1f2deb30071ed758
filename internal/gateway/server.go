package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.metrics.middleware)

	// Public routes.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.limiter, g.logger))
		} else {
			g.logger.Warn("gateway: no auth configured, API is open to anyone reaching " + g.config.Bind)
		}
		r.Get("/status", g.handleStatus())
		r.Get("/ws/events", g.handleEvents())
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			r.Use(func(next http.Handler) http.Handler {
				return http.MaxBytesHandler(next, g.config.MaxBodyBytes)
			})
			r.Post("/records", g.handleCreate())
			r.Route("/records/{id}", func(r chi.Router) {
				r.Get("/", g.handleGet())
				r.Patch("/", g.handleUpdate())
				r.Delete("/", g.handleRemove())
				r.Get("/history", g.handleHistory())
				r.Post("/reembed", g.handleReembed())
			})
			r.Get("/rooms/{room}/records", g.handlePaginate())
			r.Post("/search", g.handleSearch())
		})
	})

	return r
}
