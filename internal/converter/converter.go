// Package converter talks to the document conversion service that renders a
// presentation into per-slide images and extracts the speaker notes.
package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for converter failures. Conversion errors are fatal per job:
// retrying an identical malformed document cannot succeed.
var (
	ErrConverterUnreachable = errors.New("converter unreachable")
	ErrConversionFailed     = errors.New("conversion failed")
	ErrSlideCountMismatch   = errors.New("slide image and note counts differ")
)

// Result is an ordered view of the converted deck. ImageRefs[i] and Notes[i]
// describe the same slide; both slices always have equal length.
type Result struct {
	ImageRefs []string
	Notes     []string
}

// Client converts a source document into slide images plus notes.
type Client interface {
	Convert(ctx context.Context, documentRef string) (*Result, error)
}

// HTTPClient implements Client against the LibreOffice conversion service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new converter HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type convertRequest struct {
	DocumentRef string `json:"document_ref"`
}

type convertResponse struct {
	ImagePaths []string `json:"image_paths"`
	Notes      []string `json:"notes"`
	Error      string   `json:"error,omitempty"`
}

// Convert renders the document and validates that the service returned one
// note per image. A count mismatch signals a conversion defect, not a
// transient fault, so it surfaces as ErrSlideCountMismatch.
func (c *HTTPClient) Convert(ctx context.Context, documentRef string) (*Result, error) {
	body, err := json.Marshal(convertRequest{DocumentRef: documentRef})
	if err != nil {
		return nil, fmt.Errorf("encoding convert request: %w", err)
	}

	u := fmt.Sprintf("%s/convert", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrConversionFailed, resp.StatusCode)
	}

	var convResp convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&convResp); err != nil {
		return nil, fmt.Errorf("decoding convert response: %w", err)
	}
	if convResp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrConversionFailed, convResp.Error)
	}

	if len(convResp.ImagePaths) != len(convResp.Notes) {
		return nil, fmt.Errorf("%w: %d images, %d notes",
			ErrSlideCountMismatch, len(convResp.ImagePaths), len(convResp.Notes))
	}

	return &Result{ImageRefs: convResp.ImagePaths, Notes: convResp.Notes}, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrConverterUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrConversionFailed, err)
}

var _ Client = (*HTTPClient)(nil)
