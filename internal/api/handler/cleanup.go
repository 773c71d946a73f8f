package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/internal/api/response"
	"github.com/slidecast/slidecast/internal/cleanup"
)

// Cleaner is the cleanup surface the handlers depend on.
type Cleaner interface {
	PurgeOld(ctx context.Context) ([]cleanup.Result, error)
	Preview(ctx context.Context) ([]cleanup.Result, error)
	PurgeJobs(ctx context.Context, ids []uuid.UUID) ([]cleanup.Result, error)
}

// NewCleanupOldHandler returns the handler for POST /api/v1/cleanup/old,
// purging every terminal job past the retention window.
func NewCleanupOldHandler(svc Cleaner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := svc.PurgeOld(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Cleanup failed", nil)
			return
		}
		response.JSON(w, results)
	}
}

// NewCleanupPreviewHandler returns the handler for GET /api/v1/cleanup/preview,
// reporting what a retention purge would delete without deleting anything.
func NewCleanupPreviewHandler(svc Cleaner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := svc.Preview(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Preview failed", nil)
			return
		}
		response.JSON(w, results)
	}
}

// NewCleanupJobsHandler returns the handler for POST /api/v1/cleanup/jobs,
// purging an explicit list of terminal jobs regardless of age.
func NewCleanupJobsHandler(svc Cleaner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobIDs []uuid.UUID `json:"job_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.JobIDs) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_ids is required", nil)
			return
		}

		results, err := svc.PurgeJobs(r.Context(), req.JobIDs)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Cleanup failed", nil)
			return
		}
		response.JSON(w, results)
	}
}

// Compile-time check that the cleanup service satisfies Cleaner.
var _ Cleaner = (*cleanup.Service)(nil)
