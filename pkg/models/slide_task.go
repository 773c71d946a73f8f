package models

import (
	"time"

	"github.com/google/uuid"
)

// SlideTask sub-statuses. A row is created pending, marked running by the
// worker that picks it up, and settles on exactly one terminal value. The
// three succeeded variants record which synthesis layer produced the audio.
const (
	TaskStatusPending           = "pending"
	TaskStatusRunning           = "running"
	TaskStatusSucceededPrimary  = "succeeded_primary"
	TaskStatusSucceededFallback = "succeeded_fallback"
	TaskStatusSucceededSilence  = "succeeded_silence"
	TaskStatusFailed            = "failed"
)

// TaskStatusTerminal reports whether a sub-status is terminal. Terminal rows
// never transition again; the ledger enforces this.
func TaskStatusTerminal(status string) bool {
	switch status {
	case TaskStatusSucceededPrimary, TaskStatusSucceededFallback,
		TaskStatusSucceededSilence, TaskStatusFailed:
		return true
	}
	return false
}

// TaskStatusSucceeded reports whether a terminal sub-status carries audio.
func TaskStatusSucceeded(status string) bool {
	return TaskStatusTerminal(status) && status != TaskStatusFailed
}

// SlideTask is one synthesis sub-task, keyed by (job id, slide index).
// Slide indexes are 1-based to match the slide numbering in the deck.
type SlideTask struct {
	JobID        uuid.UUID  `db:"job_id"      json:"job_id"`
	SlideIndex   int        `db:"slide_index" json:"slide_index"`
	Status       string     `db:"status"      json:"status"`
	AudioRef     *string    `db:"audio_ref"   json:"audio_ref,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"  json:"started_at,omitempty"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"  json:"created_at"`
}
