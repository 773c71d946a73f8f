// Package cleanup removes terminal jobs and their stored artifacts once the
// retention window has passed, or on explicit operator request.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/internal/storage"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/pkg/models"
)

// ErrJobNotTerminal is returned when a purge targets a job that is still
// running. Only terminal jobs are ever cleaned up.
var ErrJobNotTerminal = errors.New("job is not in a terminal state")

var terminalStatuses = []string{
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

// Result describes the cleanup outcome for one job.
type Result struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Refs    []string  `json:"refs"`
	Deleted bool      `json:"deleted"`
	Error   string    `json:"error,omitempty"`
}

// Service deletes expired jobs: storage blobs first, then the database rows.
// The slide-task rows go with the job via the cascade.
type Service struct {
	store     store.Store
	storage   storage.Gateway
	retention time.Duration
}

func NewService(st store.Store, gw storage.Gateway, retention time.Duration) *Service {
	return &Service{store: st, storage: gw, retention: retention}
}

// PurgeOld deletes every terminal job older than the retention window.
func (s *Service) PurgeOld(ctx context.Context) ([]Result, error) {
	jobs, err := s.expired(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		results = append(results, s.purge(ctx, job))
	}
	slog.Info("retention cleanup finished", "jobs", len(results))
	return results, nil
}

// Preview reports what PurgeOld would delete without touching anything.
func (s *Service) Preview(ctx context.Context) ([]Result, error) {
	jobs, err := s.expired(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		results = append(results, Result{
			JobID:  job.ID,
			Status: job.Status,
			Refs:   s.enumerate(ctx, job),
		})
	}
	return results, nil
}

// PurgeJobs deletes the named jobs regardless of age. Jobs still running are
// reported as errors, never deleted.
func (s *Service) PurgeJobs(ctx context.Context, ids []uuid.UUID) ([]Result, error) {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			results = append(results, Result{JobID: id, Error: err.Error()})
			continue
		}
		if !job.Terminal() {
			results = append(results, Result{JobID: id, Status: job.Status, Error: ErrJobNotTerminal.Error()})
			continue
		}
		results = append(results, s.purge(ctx, job))
	}
	return results, nil
}

// Run executes PurgeOld on a fixed interval until the context is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeOld(ctx); err != nil {
				slog.Error("retention cleanup failed", "error", err)
			}
		}
	}
}

func (s *Service) expired(ctx context.Context) ([]*models.Job, error) {
	cutoff := time.Now().Add(-s.retention)
	jobs, err := s.store.ListTerminalJobsBefore(ctx, cutoff, terminalStatuses)
	if err != nil {
		return nil, fmt.Errorf("listing expired jobs: %w", err)
	}
	return jobs, nil
}

// enumerate collects every storage reference a job owns: the uploaded source,
// the per-slide artifacts under the job prefix, and the rendered video.
func (s *Service) enumerate(ctx context.Context, job *models.Job) []string {
	refs := []string{}
	if job.SourceRef != "" {
		refs = append(refs, job.SourceRef)
	}
	artifacts, err := s.storage.List(ctx, storage.BucketPresentations, storage.JobPrefix(job.ID))
	if err != nil {
		slog.Warn("listing job artifacts failed", "job_id", job.ID, "error", err)
	}
	refs = append(refs, artifacts...)
	if job.VideoRef != nil && *job.VideoRef != "" {
		refs = append(refs, *job.VideoRef)
	}
	return refs
}

func (s *Service) purge(ctx context.Context, job *models.Job) Result {
	res := Result{JobID: job.ID, Status: job.Status, Refs: s.enumerate(ctx, job)}

	for _, ref := range res.Refs {
		err := s.storage.Delete(ctx, ref)
		if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			res.Error = fmt.Sprintf("deleting %s: %v", ref, err)
			return res
		}
	}

	if err := s.store.DeleteJob(ctx, job.ID); err != nil {
		res.Error = fmt.Sprintf("deleting job row: %v", err)
		return res
	}
	res.Deleted = true
	slog.Info("job purged", "job_id", job.ID, "refs", len(res.Refs))
	return res
}
