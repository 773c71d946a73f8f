package storage

import (
	"fmt"

	"github.com/google/uuid"
)

func SourceKey(jobID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s%s", jobID, ext)
}

func NoteKey(jobID uuid.UUID, slideIndex int) string {
	return fmt.Sprintf("%s/notes/slide_%d.txt", jobID, slideIndex)
}

func AudioKey(jobID uuid.UUID, slideIndex int) string {
	return fmt.Sprintf("%s/audio/slide_%d.wav", jobID, slideIndex)
}

// JobPrefix covers every per-slide artifact of a job in the presentations
// bucket (notes, audio, converted images).
func JobPrefix(jobID uuid.UUID) string {
	return jobID.String() + "/"
}

func VideoKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%s.mp4", jobID)
}

func VoiceKey(cloneID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s%s", cloneID, ext)
}
