// Package tts produces narration audio for slides, degrading through fallback
// layers instead of failing: voice-cloned speech, then built-in-voice speech,
// then silence.
package tts

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCloneFailed marks a voice-cloning-specific failure; base synthesis
	// output is still usable, so the engine downgrades to the built-in voice.
	ErrCloneFailed = errors.New("voice cloning failed")

	// ErrSynthesisFailed marks a base synthesis failure.
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrSynthesizerUnavailable marks a transport-level failure reaching the
	// synthesis service.
	ErrSynthesizerUnavailable = errors.New("synthesizer unavailable")
)

// VoiceRef identifies the voice to narrate with: either a built-in speaker by
// name or a custom reference recording.
type VoiceRef struct {
	SpeakerName    string
	ReferenceAudio []byte
}

// Builtin reports whether the reference names a built-in speaker.
func (v VoiceRef) Builtin() bool { return v.SpeakerName != "" }

// Synthesizer is the set of synthesis primitives the fallback engine layers
// over. Never call a synthesis backend directly — always inject this interface.
type Synthesizer interface {
	// SynthesizeBase renders text to speech with the model's default voice.
	SynthesizeBase(ctx context.Context, text string, d Directives) ([]byte, error)
	// CloneVoice re-renders base audio in the target voice.
	CloneVoice(ctx context.Context, baseAudio []byte, voice VoiceRef) ([]byte, error)
	// GenerateSilence produces a silent clip of the given duration.
	GenerateSilence(ctx context.Context, duration time.Duration) ([]byte, error)
}
