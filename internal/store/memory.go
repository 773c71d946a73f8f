package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/pkg/models"
)

// MemoryStore is an in-memory Store for tests. It enforces the same
// transition rules as PostgresStore, so orchestrator and handler tests
// exercise real state-machine behavior without a database.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*models.Job
	clones map[uuid.UUID]*models.VoiceClone
	tasks  map[uuid.UUID][]*models.SlideTask

	// FailUpdates, when set, makes every job status write return this error.
	FailUpdates error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[uuid.UUID]*models.Job),
		clones: make(map[uuid.UUID]*models.VoiceClone),
		tasks:  make(map[uuid.UUID][]*models.SlideTask),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Job
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		cp := *job
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= total {
		return []*models.Job{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	if s.FailUpdates != nil {
		return s.FailUpdates
	}
	var params jobUpdateParams
	for _, opt := range opts {
		opt(&params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Terminal() {
		return ErrInvalidTransition
	}
	if params.ExpectedStatus != nil && job.Status != *params.ExpectedStatus {
		return ErrInvalidTransition
	}
	if !models.ValidJobTransition(job.Status, status) {
		return ErrInvalidTransition
	}

	now := time.Now()
	job.Status = status
	job.UpdatedAt = now
	if status == models.JobStatusDecomposing && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if models.JobStatusTerminal(status) {
		job.CompletedAt = &now
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.VideoRef != nil {
		job.VideoRef = params.VideoRef
	}
	if params.Degraded != nil {
		job.Degraded = *params.Degraded
	}
	if params.SlideCount != nil {
		job.SlideCount = *params.SlideCount
	}
	return nil
}

func (s *MemoryStore) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) ListTerminalJobsBefore(ctx context.Context, cutoff time.Time, statuses []string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		match[st] = true
	}
	var out []*models.Job
	for _, job := range s.jobs {
		if !match[job.Status] || job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) CreateVoiceClone(ctx context.Context, clone *models.VoiceClone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	clone.CreatedAt = time.Now()
	cp := *clone
	s.clones[clone.ID] = &cp
	return nil
}

func (s *MemoryStore) GetVoiceClone(ctx context.Context, id uuid.UUID) (*models.VoiceClone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone, ok := s.clones[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *clone
	return &cp, nil
}

func (s *MemoryStore) ListVoiceClones(ctx context.Context) ([]*models.VoiceClone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.VoiceClone, 0, len(s.clones))
	for _, clone := range s.clones {
		cp := *clone
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateSlideTasks(ctx context.Context, jobID uuid.UUID, n int) error {
	if n < 1 {
		return fmt.Errorf("slide task count must be positive, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	now := time.Now()
	tasks := make([]*models.SlideTask, 0, n)
	for i := 1; i <= n; i++ {
		tasks = append(tasks, &models.SlideTask{
			JobID:      jobID,
			SlideIndex: i,
			Status:     models.TaskStatusPending,
			CreatedAt:  now,
		})
	}
	s.tasks[jobID] = tasks
	return nil
}

func (s *MemoryStore) findTask(jobID uuid.UUID, slideIndex int) *models.SlideTask {
	for _, task := range s.tasks[jobID] {
		if task.SlideIndex == slideIndex {
			return task
		}
	}
	return nil
}

func (s *MemoryStore) MarkSlideTaskRunning(ctx context.Context, jobID uuid.UUID, slideIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.findTask(jobID, slideIndex)
	if task == nil {
		return ErrNotFound
	}
	if task.Status != models.TaskStatusPending {
		return fmt.Errorf("mark slide task %d: %w", slideIndex, ErrNotRunnable)
	}
	now := time.Now()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	return nil
}

func (s *MemoryStore) MarkSlideTaskTerminal(ctx context.Context, jobID uuid.UUID, slideIndex int, status string, opts ...TaskResultOption) error {
	if !models.TaskStatusTerminal(status) {
		return fmt.Errorf("status %q is not terminal", status)
	}
	var params taskResultParams
	for _, opt := range opts {
		opt(&params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.findTask(jobID, slideIndex)
	if task == nil {
		return ErrNotFound
	}
	if models.TaskStatusTerminal(task.Status) {
		if task.Status == status {
			return nil
		}
		return fmt.Errorf("%w: holds %s, attempted %s", ErrTerminalConflict, task.Status, status)
	}
	now := time.Now()
	task.Status = status
	task.FinishedAt = &now
	if params.AudioRef != nil {
		task.AudioRef = params.AudioRef
	}
	if params.ErrorMessage != nil {
		task.ErrorMessage = params.ErrorMessage
	}
	return nil
}

func (s *MemoryStore) CountTerminalSlideTasks(ctx context.Context, jobID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, task := range s.tasks[jobID] {
		if models.TaskStatusTerminal(task.Status) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListSlideTasks(ctx context.Context, jobID uuid.UUID) ([]*models.SlideTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.tasks[jobID]
	out := make([]*models.SlideTask, 0, len(tasks))
	for _, task := range tasks {
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlideIndex < out[j].SlideIndex })
	return out, nil
}
