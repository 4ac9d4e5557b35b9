// Package api wires the admin/debug HTTP surface: health/version,
// policy read/replace, rollout state, a guard-events SSE tail, and an
// out-of-process intent driver. Grounded on the teacher's internal/api/
// router.go, narrowed from a multi-tenant agent/recipe/gateway REST API
// to the handful of endpoints SPEC_FULL.md names, with the same global
// middleware stack and the same wildcard-origin-never-with-credentials
// CORS rule.
package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/uicp/runtime/internal/api/handlers"
	"github.com/uicp/runtime/internal/api/middleware"
	"github.com/uicp/runtime/internal/config"
)

// NewRouter creates the HTTP router with all admin/debug routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !isWildcard, // only allow credentials with explicit origins
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", h.Version)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/policy", func(r chi.Router) {
			r.Get("/", h.GetPolicy)
			r.Put("/", h.PutPolicy)
		})
		r.Get("/rollout", h.GetRollout)
		r.Get("/guard/events", h.GuardEvents)
		r.Post("/intent", h.PostIntent)
	})

	return r
}

func parseCORSOrigins() []string {
	originsEnv := os.Getenv("UICP_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
