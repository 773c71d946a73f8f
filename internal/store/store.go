package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/pkg/models"
)

var (
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidTransition is returned when a job status update would violate
	// the state machine, including any write to a terminal job.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrTerminalConflict is returned when a slide task already holds a
	// different terminal status than the one being written. Re-applying the
	// same terminal status is a no-op, not a conflict.
	ErrTerminalConflict = errors.New("slide task already terminal with different status")

	// ErrNotRunnable is returned by MarkSlideTaskRunning when the row is not
	// pending, so a duplicate delivery never re-runs a slide already claimed
	// or finished by another worker.
	ErrNotRunnable = errors.New("slide task is not pending")
)

// Store is the data access interface. All database operations go through here.
// The orchestrator is the only writer of job and slide-task transitions; the
// mark operations are idempotent so duplicate delivery is harmless.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
	ListTerminalJobsBefore(ctx context.Context, cutoff time.Time, statuses []string) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error

	CreateVoiceClone(ctx context.Context, clone *models.VoiceClone) error
	GetVoiceClone(ctx context.Context, id uuid.UUID) (*models.VoiceClone, error)
	ListVoiceClones(ctx context.Context) ([]*models.VoiceClone, error)

	CreateSlideTasks(ctx context.Context, jobID uuid.UUID, n int) error
	MarkSlideTaskRunning(ctx context.Context, jobID uuid.UUID, slideIndex int) error
	MarkSlideTaskTerminal(ctx context.Context, jobID uuid.UUID, slideIndex int, status string, opts ...TaskResultOption) error
	CountTerminalSlideTasks(ctx context.Context, jobID uuid.UUID) (int, error)
	ListSlideTasks(ctx context.Context, jobID uuid.UUID) ([]*models.SlideTask, error)
}

type JobFilter struct {
	Status string
	Page   int
	Limit  int
}

type jobUpdateParams struct {
	ErrorMessage   *string
	VideoRef       *string
	Degraded       *bool
	SlideCount     *int
	ExpectedStatus *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithVideoRef(ref string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.VideoRef = &ref
	}
}

func WithDegraded(degraded bool) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Degraded = &degraded
	}
}

func WithSlideCount(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.SlideCount = &n
	}
}

// WithExpectedStatus makes the update conditional on the job currently holding
// the given status, turning the transition into a compare-and-set.
func WithExpectedStatus(status string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ExpectedStatus = &status
	}
}

type taskResultParams struct {
	AudioRef     *string
	ErrorMessage *string
}

type TaskResultOption func(*taskResultParams)

func WithAudioRef(ref string) TaskResultOption {
	return func(p *taskResultParams) {
		p.AudioRef = &ref
	}
}

func WithTaskError(msg string) TaskResultOption {
	return func(p *taskResultParams) {
		p.ErrorMessage = &msg
	}
}
