package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the public and authenticated routes. metricsHandler may be
// nil to leave /metrics unmounted.
func NewRouter(h *Handler, authMiddleware func(http.Handler) http.Handler, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"usage-governor"}`))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/v1/access/{area}", h.HandleAccess)
		r.Get("/v1/quota/{metric}", h.HandleQuota)
		r.Post("/v1/generate/{metric}", h.HandleGenerate)
		r.Post("/v1/usage/{metric}", h.HandleRecord)
		r.Get("/v1/usage", h.HandleUsage)
	})

	return r
}
