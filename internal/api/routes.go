package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// defaultOrigins applies when no origins are configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	h.MountHealth(r)

	r.Route("/email", func(r chi.Router) {
		r.Post("/send-bulk", h.SendBulk)
		r.Post("/send", h.SendOne)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/queue/stats", h.QueueStats)
		r.Post("/queue/clear", h.ClearQueue)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})

	return r
}

// MountHealth registers the health checks and, when configured, /metrics.
func (h *Handlers) MountHealth(r chi.Router) {
	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)
	r.Get("/health/ready", h.health.HandleReadiness)
	if h.metrics != nil {
		r.Get("/metrics", h.metrics.ServeHTTP)
	}
}
