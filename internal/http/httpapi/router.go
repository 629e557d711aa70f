package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vidqueue/internal/http/handlers"
	"vidqueue/internal/middleware"
)

// NewRouter wires the public API.
func NewRouter(app *handlers.App, logger zerolog.Logger, ratePerMinute int) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logger),
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger,
	)

	r.Get("/v1/healthz", app.Health)

	if app.StaticDir != "" {
		files := http.StripPrefix(handlers.StaticPrefix, http.FileServer(http.Dir(app.StaticDir)))
		r.Handle(handlers.StaticPrefix+"*", files)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(ratePerMinute))
		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.EnqueueJob)
			r.Get("/{id}", app.GetJob)
		})
		r.Get("/v1/users/{id}/balance", app.UserBalance)
	})

	return r
}

// NewOpsRouter serves the worker's health and metrics endpoints.
func NewOpsRouter(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics)
	return r
}
