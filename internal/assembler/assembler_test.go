package assembler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slidecast/slidecast/internal/assembler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assemble", r.URL.Path)

		var req struct {
			ImageRefs []string `json:"image_refs"`
			AudioRefs []string `json:"audio_refs"`
			OutputRef string   `json:"output_ref"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"img1", "img2"}, req.ImageRefs)
		assert.Equal(t, []string{"aud1", "aud2"}, req.AudioRefs)

		json.NewEncoder(w).Encode(map[string]string{"video_ref": req.OutputRef})
	}))
	defer srv.Close()

	c := assembler.NewHTTPClient(srv.URL, 5*time.Second)
	ref, err := c.Assemble(context.Background(), assembler.Request{
		ImageRefs: []string{"img1", "img2"},
		AudioRefs: []string{"aud1", "aud2"},
		OutputRef: "output/job.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, "output/job.mp4", ref)
}

func TestAssemble_LengthMismatchRejectedLocally(t *testing.T) {
	c := assembler.NewHTTPClient("http://127.0.0.1:1", time.Second)
	_, err := c.Assemble(context.Background(), assembler.Request{
		ImageRefs: []string{"img1", "img2"},
		AudioRefs: []string{"aud1"},
	})
	assert.ErrorIs(t, err, assembler.ErrAssemblyFailed)
}

func TestAssemble_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "codec failure"})
	}))
	defer srv.Close()

	c := assembler.NewHTTPClient(srv.URL, 5*time.Second)
	_, err := c.Assemble(context.Background(), assembler.Request{
		ImageRefs: []string{"img1"},
		AudioRefs: []string{"aud1"},
	})
	require.ErrorIs(t, err, assembler.ErrAssemblyFailed)
	assert.Contains(t, err.Error(), "codec failure")
}
