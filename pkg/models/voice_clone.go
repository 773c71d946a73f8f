package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BuiltinVoicePrefix marks a voice reference that names a built-in speaker
// instead of an uploaded reference recording, e.g. "builtin://en-default".
const BuiltinVoicePrefix = "builtin://"

// VoiceClone is a voice reference usable by presentation jobs. ReferenceRef is
// either a storage reference to an uploaded audio sample or a builtin:// name.
type VoiceClone struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Name         string    `db:"name"          json:"name"`
	ReferenceRef string    `db:"reference_ref" json:"reference_ref"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}

// Builtin reports whether the clone names a built-in speaker.
func (v *VoiceClone) Builtin() bool {
	return strings.HasPrefix(v.ReferenceRef, BuiltinVoicePrefix)
}

// SpeakerName returns the built-in speaker name, or "" for custom clones.
func (v *VoiceClone) SpeakerName() string {
	if !v.Builtin() {
		return ""
	}
	return strings.TrimPrefix(v.ReferenceRef, BuiltinVoicePrefix)
}
