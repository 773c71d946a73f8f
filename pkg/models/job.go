// Package models contains shared data models used across the Slidecast codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Job status values. Pending, Decomposing, Synthesizing and Assembling are the
// pipeline stages; Completed, Failed and Cancelled are terminal.
const (
	JobStatusPending      = "pending"
	JobStatusDecomposing  = "decomposing"
	JobStatusSynthesizing = "synthesizing"
	JobStatusAssembling   = "assembling"
	JobStatusCompleted    = "completed"
	JobStatusFailed       = "failed"
	JobStatusCancelled    = "cancelled"
)

// JobStatusTerminal reports whether a job status admits no further transitions.
func JobStatusTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// jobTransitions is the set of legal forward edges of the job state machine.
// Cancellation is handled separately: it is legal from any non-terminal state.
// Pending can fail directly: startup faults may hit before decomposition is
// ever recorded.
var jobTransitions = map[string][]string{
	JobStatusPending:      {JobStatusDecomposing, JobStatusFailed},
	JobStatusDecomposing:  {JobStatusSynthesizing, JobStatusFailed},
	JobStatusSynthesizing: {JobStatusAssembling, JobStatusFailed},
	JobStatusAssembling:   {JobStatusCompleted, JobStatusFailed},
}

// ValidJobTransition reports whether moving a job from one status to another is
// allowed. Terminal states are absorbing.
func ValidJobTransition(from, to string) bool {
	if JobStatusTerminal(from) {
		return false
	}
	if to == JobStatusCancelled {
		return true
	}
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job tracks one presentation-to-video conversion. The API returns the job id
// on POST /api/v1/presentations; the client polls until the status is terminal.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Status       string     `db:"status"        json:"status"`
	SourceRef    string     `db:"source_ref"    json:"source_ref"`
	VoiceCloneID uuid.UUID  `db:"voice_clone_id" json:"voice_clone_id"`
	VideoRef     *string    `db:"video_ref"     json:"video_ref,omitempty"`
	Degraded     bool       `db:"degraded"      json:"degraded"`
	SlideCount   int        `db:"slide_count"   json:"slide_count"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool { return JobStatusTerminal(j.Status) }
