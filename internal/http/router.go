// Package http wires the route table. Handlers live in the handlers
// subpackage; cross-cutting concerns are chi middlewares.
package http

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studio/internal/http/handlers"
	"studio/internal/middleware"
)

func NewRouter(app *handlers.App, countryLookup middleware.CountryLookup) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.Locale(app.Config.DefaultLocale, app.Config.SupportedLocales, countryLookup))

	mutating := middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)

	r.Get("/v1/healthz", app.Health)
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.Handler())

	r.With(mutating).Post("/v1/uploads", app.UploadImage)

	r.Route("/v1/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", app.GetSession)
		r.With(mutating).Post("/steps", app.ApplyStep)
		r.With(mutating).Post("/undo", app.UndoStep)
		r.With(mutating).Post("/redo", app.RedoStep)
	})

	r.With(mutating).Post("/v1/images/generate", app.GenerateImages)

	r.Route("/v1/jobs/{job_id}", func(r chi.Router) {
		r.Get("/status", app.JobStatus)
		r.Get("/assets", app.JobAssets)
		r.Get("/zip", app.JobZip)
	})

	r.Get("/v1/blobs/*", app.ServeBlob)

	// Signed by the provider, not rate limited: redeliveries must get through.
	r.Post("/v1/webhooks/generation", app.GenerationWebhook)

	return r
}
