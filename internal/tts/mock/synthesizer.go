// Package mock provides a tts.Synthesizer test double.
package mock

import (
	"context"
	"time"

	"github.com/slidecast/slidecast/internal/tts"
)

// Synthesizer satisfies tts.Synthesizer for testing.
type Synthesizer struct {
	SynthesizeBaseFunc  func(ctx context.Context, text string, d tts.Directives) ([]byte, error)
	CloneVoiceFunc      func(ctx context.Context, baseAudio []byte, voice tts.VoiceRef) ([]byte, error)
	GenerateSilenceFunc func(ctx context.Context, duration time.Duration) ([]byte, error)
}

func (s *Synthesizer) SynthesizeBase(ctx context.Context, text string, d tts.Directives) ([]byte, error) {
	if s.SynthesizeBaseFunc != nil {
		return s.SynthesizeBaseFunc(ctx, text, d)
	}
	return []byte("base:" + text), nil
}

func (s *Synthesizer) CloneVoice(ctx context.Context, baseAudio []byte, voice tts.VoiceRef) ([]byte, error) {
	if s.CloneVoiceFunc != nil {
		return s.CloneVoiceFunc(ctx, baseAudio, voice)
	}
	return append([]byte("cloned:"), baseAudio...), nil
}

func (s *Synthesizer) GenerateSilence(ctx context.Context, duration time.Duration) ([]byte, error) {
	if s.GenerateSilenceFunc != nil {
		return s.GenerateSilenceFunc(ctx, duration)
	}
	return tts.SilenceWAV(duration), nil
}

// NewSynthesizer returns a Synthesizer whose every layer succeeds.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// NewCloneFailing returns a Synthesizer whose voice cloning always fails,
// exercising the built-in-voice fallback.
func NewCloneFailing() *Synthesizer {
	return &Synthesizer{
		CloneVoiceFunc: func(_ context.Context, _ []byte, _ tts.VoiceRef) ([]byte, error) {
			return nil, tts.ErrCloneFailed
		},
	}
}

// NewBlocking returns a Synthesizer whose synthesis layers block until the
// context is cancelled, exercising the soft-timeout path.
func NewBlocking() *Synthesizer {
	return &Synthesizer{
		SynthesizeBaseFunc: func(ctx context.Context, _ string, _ tts.Directives) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		CloneVoiceFunc: func(ctx context.Context, _ []byte, _ tts.VoiceRef) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

// Compile-time check that Synthesizer implements tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)
