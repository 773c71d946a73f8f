package handler

import (
	"context"
	"net/http"

	"github.com/slidecast/slidecast/internal/api/response"
)

// Pinger covers the dependencies the health endpoint pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. Degraded
// dependencies are reported per component with a 503.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		healthy := true
		if err := db.Ping(r.Context()); err != nil {
			components["database"] = err.Error()
			healthy = false
		}
		if err := cache.Ping(r.Context()); err != nil {
			components["cache"] = err.Error()
			healthy = false
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		body := map[string]any{"status": status, "components": components}
		if code == http.StatusOK {
			response.JSON(w, body)
			return
		}
		response.Error(w, code, "DEGRADED", "One or more dependencies are unavailable", components)
	}
}
