package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/internal/api/response"
	"github.com/slidecast/slidecast/internal/storage"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/pkg/models"
)

var allowedVoiceExts = map[string]bool{
	".wav": true,
	".mp3": true,
	".m4a": true,
}

// NewCreateVoiceHandler returns the handler for POST /api/v1/voices:
// multipart upload of a reference recording plus a name form field.
func NewCreateVoiceHandler(st store.Store, gw storage.Gateway, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected multipart form upload", nil)
			return
		}

		name := strings.TrimSpace(r.FormValue("name"))
		if name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file field is required", nil)
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedVoiceExts[ext] {
			response.Error(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT",
				"Supported formats: .wav, .mp3, .m4a", map[string]string{"filename": header.Filename})
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read uploaded file", nil)
			return
		}

		cloneID := uuid.New()
		ref, err := gw.Put(r.Context(), storage.BucketVoices, storage.VoiceKey(cloneID, ext), data)
		if err != nil {
			response.Error(w, http.StatusBadGateway, "STORAGE_UNAVAILABLE", "Failed to store reference audio", nil)
			return
		}

		clone := &models.VoiceClone{ID: cloneID, Name: name, ReferenceRef: ref}
		if err := st.CreateVoiceClone(r.Context(), clone); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create voice clone", nil)
			return
		}
		response.Created(w, clone)
	}
}

// NewCreateBuiltinVoiceHandler returns the handler for
// POST /api/v1/voices/builtin: registers a named built-in speaker, no upload.
func NewCreateBuiltinVoiceHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name    string `json:"name"`
			Speaker string `json:"speaker"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if strings.TrimSpace(req.Speaker) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "speaker is required", nil)
			return
		}

		clone := &models.VoiceClone{
			Name:         req.Name,
			ReferenceRef: models.BuiltinVoicePrefix + req.Speaker,
		}
		if err := st.CreateVoiceClone(r.Context(), clone); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create voice clone", nil)
			return
		}
		response.Created(w, clone)
	}
}

// NewListVoicesHandler returns the handler for GET /api/v1/voices.
func NewListVoicesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clones, err := st.ListVoiceClones(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list voice clones", nil)
			return
		}
		response.JSON(w, clones)
	}
}
