package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slidecast/slidecast/pkg/models"
)

// Outcome records which fallback layer produced a clip.
type Outcome string

const (
	OutcomePrimary  Outcome = "primary"  // voice-cloned synthesis
	OutcomeFallback Outcome = "fallback" // base synthesis, cloning skipped
	OutcomeSilence  Outcome = "silence"  // generated silent clip
)

// TaskStatus maps an outcome to the ledger sub-status it settles on.
func (o Outcome) TaskStatus() string {
	switch o {
	case OutcomePrimary:
		return models.TaskStatusSucceededPrimary
	case OutcomeFallback:
		return models.TaskStatusSucceededFallback
	default:
		return models.TaskStatusSucceededSilence
	}
}

// Clip is the audio produced for one slide, tagged with the layer that made it.
type Clip struct {
	Audio   []byte
	Outcome Outcome
}

// Engine runs the layered fallback chain under the soft timeout budget.
// Layer order: voice-cloned synthesis, then base synthesis without cloning,
// then silence. Each layer's failure is caught and demoted to the next; only
// silence generation itself failing propagates as an error.
type Engine struct {
	synth           Synthesizer
	softTimeout     time.Duration
	silenceDuration time.Duration
}

// NewEngine creates an Engine. The soft timeout bounds layers 1 and 2
// together; silence generation runs outside it so a blown budget still yields
// a terminal clip.
func NewEngine(synth Synthesizer, softTimeout, silenceDuration time.Duration) *Engine {
	return &Engine{
		synth:           synth,
		softTimeout:     softTimeout,
		silenceDuration: silenceDuration,
	}
}

// Render produces a clip for the slide's note text, never blocking past the
// soft timeout on the synthesis layers. An empty note (after tag stripping)
// goes straight to silence without touching the synthesis service.
func (e *Engine) Render(ctx context.Context, noteText string, voice VoiceRef) (*Clip, error) {
	clean, directives := ParseTags(noteText)
	if clean == "" {
		return e.silence(ctx)
	}

	softCtx, cancel := context.WithTimeout(ctx, e.softTimeout)
	defer cancel()

	base, err := e.synth.SynthesizeBase(softCtx, clean, directives)
	if err != nil {
		slog.Warn("base synthesis failed, falling back to silence", "error", err)
		return e.silence(ctx)
	}

	cloned, err := e.synth.CloneVoice(softCtx, base, voice)
	if err == nil {
		return &Clip{Audio: cloned, Outcome: OutcomePrimary}, nil
	}

	if softCtx.Err() != nil {
		// Soft deadline blew during cloning: do not spend more time on the
		// base audio path, downgrade straight to silence.
		slog.Warn("soft timeout during voice cloning, falling back to silence", "error", err)
		return e.silence(ctx)
	}

	if errors.Is(err, ErrCloneFailed) || errors.Is(err, ErrSynthesizerUnavailable) {
		slog.Warn("voice cloning failed, using built-in voice", "error", err)
		return &Clip{Audio: base, Outcome: OutcomeFallback}, nil
	}

	slog.Warn("voice cloning failed unexpectedly, falling back to silence", "error", err)
	return e.silence(ctx)
}

// silence is the last layer. Its failure is a near-impossible infrastructure
// fault and is the only error Render returns.
func (e *Engine) silence(ctx context.Context) (*Clip, error) {
	audio, err := e.synth.GenerateSilence(ctx, e.silenceDuration)
	if err != nil {
		return nil, fmt.Errorf("generate silence: %w", err)
	}
	return &Clip{Audio: audio, Outcome: OutcomeSilence}, nil
}
