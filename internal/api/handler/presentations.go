// Package handler contains the HTTP handlers for the public API.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/slidecast/slidecast/internal/api/response"
	"github.com/slidecast/slidecast/internal/cache"
	"github.com/slidecast/slidecast/internal/orchestrator"
	"github.com/slidecast/slidecast/internal/storage"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/pkg/models"
)

// Pipeline is the orchestrator surface the handlers depend on.
type Pipeline interface {
	Start(ctx context.Context, jobID uuid.UUID) error
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

var allowedSourceExts = map[string]bool{
	".pptx": true,
	".ppt":  true,
	".odp":  true,
	".pdf":  true,
}

// NewCreatePresentationHandler returns the handler for
// POST /api/v1/presentations: multipart upload of a slide deck plus a
// voice_clone_id form field. Responds 202 with the created job; the client
// polls the job until it is terminal.
func NewCreatePresentationHandler(st store.Store, gw storage.Gateway, pipe Pipeline, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected multipart form upload", nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file field is required", nil)
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedSourceExts[ext] {
			response.Error(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT",
				"Supported formats: .pptx, .ppt, .odp, .pdf", map[string]string{"filename": header.Filename})
			return
		}

		voiceID, err := uuid.Parse(r.FormValue("voice_clone_id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "voice_clone_id must be a valid UUID", nil)
			return
		}
		if _, err := st.GetVoiceClone(r.Context(), voiceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "VOICE_NOT_FOUND", "Voice clone does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load voice clone", nil)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read uploaded file", nil)
			return
		}

		jobID := uuid.New()
		sourceRef, err := gw.Put(r.Context(), storage.BucketIngest, storage.SourceKey(jobID, ext), data)
		if err != nil {
			response.Error(w, http.StatusBadGateway, "STORAGE_UNAVAILABLE", "Failed to store uploaded file", nil)
			return
		}

		job := &models.Job{ID: jobID, Status: models.JobStatusPending, SourceRef: sourceRef, VoiceCloneID: voiceID}
		if err := st.CreateJob(r.Context(), job); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
			return
		}

		if err := pipe.Start(r.Context(), job.ID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start job", nil)
			return
		}

		response.Accepted(w, job)
	}
}

// NewListPresentationsHandler returns the handler for GET /api/v1/presentations
// with optional status, page and limit query parameters.
func NewListPresentationsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.JobFilter{
			Status: r.URL.Query().Get("status"),
			Page:   queryInt(r, "page", 1),
			Limit:  queryInt(r, "limit", 20),
		}
		if filter.Status != "" && !validJobStatus(filter.Status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown status filter", nil)
			return
		}
		if filter.Limit > 100 {
			filter.Limit = 100
		}

		jobs, total, err := st.ListJobs(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// jobStatusView is the poll payload: the job plus its per-slide progress.
type jobStatusView struct {
	*models.Job
	Tasks []*models.SlideTask `json:"tasks,omitempty"`
}

// NewGetPresentationHandler returns the handler for
// GET /api/v1/presentations/{jobID}. Plain status polls are answered from the
// cache when possible; ?detail=true always reads the ledger.
func NewGetPresentationHandler(st store.Store, ca cache.Cache, statusTTL time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}
		detail := r.URL.Query().Get("detail") == "true"

		if !detail {
			if status, ok, _ := ca.GetJobStatus(r.Context(), jobID); ok {
				response.JSON(w, map[string]any{"id": jobID, "status": status})
				return
			}
		}

		job, err := st.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		ca.SetJobStatus(r.Context(), jobID, job.Status, statusTTL)

		view := jobStatusView{Job: job}
		if detail {
			tasks, err := st.ListSlideTasks(r.Context(), jobID)
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load slide tasks", nil)
				return
			}
			view.Tasks = tasks
		}
		response.JSON(w, view)
	}
}

// NewDownloadVideoHandler returns the handler for
// GET /api/v1/presentations/{jobID}/video, streaming the rendered video.
func NewDownloadVideoHandler(st store.Store, gw storage.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := st.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		if job.Status != models.JobStatusCompleted || job.VideoRef == nil {
			response.Error(w, http.StatusConflict, "VIDEO_NOT_READY",
				"Job has not produced a video", map[string]string{"status": job.Status})
			return
		}

		body, size, err := gw.GetStream(r.Context(), *job.VideoRef)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				response.Error(w, http.StatusNotFound, "VIDEO_NOT_FOUND", "Video object is missing from storage", nil)
				return
			}
			response.Error(w, http.StatusBadGateway, "STORAGE_UNAVAILABLE", "Failed to read video", nil)
			return
		}
		defer body.Close()
		response.Stream(w, "video/mp4", size, body)
	}
}

// NewCancelPresentationHandler returns the handler for
// DELETE /api/v1/presentations/{jobID}, which cancels a running job.
func NewCancelPresentationHandler(pipe Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		err = pipe.Cancel(r.Context(), jobID)
		switch {
		case err == nil:
			response.JSON(w, map[string]any{"id": jobID, "status": models.JobStatusCancelled})
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job does not exist", nil)
		case errors.Is(err, store.ErrInvalidTransition):
			response.Error(w, http.StatusConflict, "JOB_ALREADY_TERMINAL", "Job already reached a terminal state", nil)
		default:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel job", nil)
		}
	}
}

func validJobStatus(status string) bool {
	switch status {
	case models.JobStatusPending, models.JobStatusDecomposing, models.JobStatusSynthesizing,
		models.JobStatusAssembling, models.JobStatusCompleted, models.JobStatusFailed,
		models.JobStatusCancelled:
		return true
	}
	return false
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// Compile-time check that the orchestrator satisfies Pipeline.
var _ Pipeline = (*orchestrator.Orchestrator)(nil)
