// Package assembler talks to the video assembly service that muxes ordered
// slide images and audio clips into a single video file.
package assembler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrAssemblyFailed = errors.New("video assembly failed")

// Request carries the ordered assembly inputs. ImageRefs[i] pairs with
// AudioRefs[i]; both must be sorted by slide index before calling Assemble.
type Request struct {
	ImageRefs []string
	AudioRefs []string
	OutputRef string
}

// Client muxes slides into a video.
type Client interface {
	Assemble(ctx context.Context, req Request) (string, error)
}

// HTTPClient implements Client against the ffmpeg-based assembly service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new assembler HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type assembleRequest struct {
	ImageRefs []string `json:"image_refs"`
	AudioRefs []string `json:"audio_refs"`
	OutputRef string   `json:"output_ref"`
}

type assembleResponse struct {
	VideoRef string `json:"video_ref"`
	Error    string `json:"error,omitempty"`
}

// Assemble muxes the deck and returns the storage reference of the video.
func (c *HTTPClient) Assemble(ctx context.Context, req Request) (string, error) {
	if len(req.ImageRefs) != len(req.AudioRefs) {
		return "", fmt.Errorf("%w: %d images but %d audio clips",
			ErrAssemblyFailed, len(req.ImageRefs), len(req.AudioRefs))
	}

	body, err := json.Marshal(assembleRequest{
		ImageRefs: req.ImageRefs,
		AudioRefs: req.AudioRefs,
		OutputRef: req.OutputRef,
	})
	if err != nil {
		return "", fmt.Errorf("encoding assemble request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assemble", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAssemblyFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAssemblyFailed, resp.StatusCode)
	}

	var asmResp assembleResponse
	if err := json.NewDecoder(resp.Body).Decode(&asmResp); err != nil {
		return "", fmt.Errorf("decoding assemble response: %w", err)
	}
	if asmResp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrAssemblyFailed, asmResp.Error)
	}
	if asmResp.VideoRef == "" {
		return "", fmt.Errorf("%w: service returned no video reference", ErrAssemblyFailed)
	}
	return asmResp.VideoRef, nil
}

var _ Client = (*HTTPClient)(nil)
