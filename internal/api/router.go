// Package api assembles the HTTP router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/slidecast/slidecast/internal/api/middleware"
	"github.com/slidecast/slidecast/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreatePresentation http.HandlerFunc
	ListPresentations  http.HandlerFunc
	GetPresentation    http.HandlerFunc
	DownloadVideo      http.HandlerFunc
	CancelPresentation http.HandlerFunc

	CreateVoice        http.HandlerFunc
	CreateBuiltinVoice http.HandlerFunc
	ListVoices         http.HandlerFunc

	CleanupOld     http.HandlerFunc
	CleanupJobs    http.HandlerFunc
	CleanupPreview http.HandlerFunc

	DashboardStats http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/presentations", orNotImplemented(deps.CreatePresentation))
		r.Get("/api/v1/presentations", orNotImplemented(deps.ListPresentations))
		r.Get("/api/v1/presentations/{jobID}", orNotImplemented(deps.GetPresentation))
		r.Get("/api/v1/presentations/{jobID}/video", orNotImplemented(deps.DownloadVideo))
		r.Delete("/api/v1/presentations/{jobID}", orNotImplemented(deps.CancelPresentation))

		r.Post("/api/v1/voices", orNotImplemented(deps.CreateVoice))
		r.Post("/api/v1/voices/builtin", orNotImplemented(deps.CreateBuiltinVoice))
		r.Get("/api/v1/voices", orNotImplemented(deps.ListVoices))

		r.Post("/api/v1/cleanup/old", orNotImplemented(deps.CleanupOld))
		r.Post("/api/v1/cleanup/jobs", orNotImplemented(deps.CleanupJobs))
		r.Get("/api/v1/cleanup/preview", orNotImplemented(deps.CleanupPreview))

		r.Get("/api/v1/dashboard/stats", orNotImplemented(deps.DashboardStats))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
