// Package openvoice implements tts.Synthesizer against the GPU inference
// service that runs MeloTTS for base synthesis and OpenVoice for tone-color
// conversion.
package openvoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slidecast/slidecast/internal/config"
	"github.com/slidecast/slidecast/internal/tts"
)

// Provider implements tts.Synthesizer over the inference service's HTTP API.
type Provider struct {
	baseURL string
	client  *http.Client
}

func NewProvider(cfg config.TTSConfig) *Provider {
	return &Provider{
		baseURL: cfg.BaseURL,
		// The hard timeout is the absolute ceiling per sub-task; individual
		// requests are additionally bounded by the caller's context.
		client: &http.Client{Timeout: cfg.HardTimeout},
	}
}

type synthesizeRequest struct {
	Text    string  `json:"text"`
	Emotion string  `json:"emotion"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
}

type cloneRequest struct {
	AudioB64     string `json:"audio_b64"`
	SpeakerName  string `json:"speaker_name,omitempty"`
	ReferenceB64 string `json:"reference_b64,omitempty"`
}

type audioResponse struct {
	AudioB64 string `json:"audio_b64"`
	Error    string `json:"error,omitempty"`
}

func (p *Provider) SynthesizeBase(ctx context.Context, text string, d tts.Directives) ([]byte, error) {
	audio, err := p.post(ctx, "/synthesize", synthesizeRequest{
		Text:    text,
		Emotion: d.Emotion,
		Speed:   d.Speed,
		Pitch:   d.Pitch,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, err)
	}
	return audio, nil
}

func (p *Provider) CloneVoice(ctx context.Context, baseAudio []byte, voice tts.VoiceRef) ([]byte, error) {
	req := cloneRequest{
		AudioB64:    base64.StdEncoding.EncodeToString(baseAudio),
		SpeakerName: voice.SpeakerName,
	}
	if !voice.Builtin() {
		req.ReferenceB64 = base64.StdEncoding.EncodeToString(voice.ReferenceAudio)
	}

	audio, err := p.post(ctx, "/clone", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tts.ErrCloneFailed, err)
	}
	return audio, nil
}

// GenerateSilence is served locally; the last fallback layer must not depend
// on the inference service being reachable.
func (p *Provider) GenerateSilence(_ context.Context, duration time.Duration) ([]byte, error) {
	return tts.SilenceWAV(duration), nil
}

func (p *Provider) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tts.ErrSynthesizerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var audioResp audioResponse
	if err := json.NewDecoder(resp.Body).Decode(&audioResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if audioResp.Error != "" {
		return nil, fmt.Errorf("service error: %s", audioResp.Error)
	}

	audio, err := base64.StdEncoding.DecodeString(audioResp.AudioB64)
	if err != nil {
		return nil, fmt.Errorf("decoding audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("service returned empty audio")
	}
	return audio, nil
}

var _ tts.Synthesizer = (*Provider)(nil)
