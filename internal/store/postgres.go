package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/slidecast/slidecast/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, source_ref, voice_clone_id, degraded, slide_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Status, job.SourceRef, job.VoiceCloneID, job.Degraded, job.SlideCount,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

const jobColumns = `id, status, source_ref, voice_clone_id, video_ref, degraded, slide_count,
	error_message, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Status, &j.SourceRef, &j.VoiceCloneID, &j.VideoRef, &j.Degraded,
		&j.SlideCount, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			jobColumns, where, argIdx, argIdx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// UpdateJobStatus transitions a job to the given status. Terminal jobs are
// never updated; with WithExpectedStatus the write degrades to a compare-and-set.
// A write that matches no row on a job that exists returns ErrInvalidTransition.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	var p jobUpdateParams
	for _, opt := range opts {
		opt(&p)
	}

	sets := []string{"status = $2", "updated_at = NOW()"}
	args := []any{id, status}
	argIdx := 3

	if p.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", argIdx))
		args = append(args, *p.ErrorMessage)
		argIdx++
	}
	if p.VideoRef != nil {
		sets = append(sets, fmt.Sprintf("video_ref = $%d", argIdx))
		args = append(args, *p.VideoRef)
		argIdx++
	}
	if p.Degraded != nil {
		sets = append(sets, fmt.Sprintf("degraded = $%d", argIdx))
		args = append(args, *p.Degraded)
		argIdx++
	}
	if p.SlideCount != nil {
		sets = append(sets, fmt.Sprintf("slide_count = $%d", argIdx))
		args = append(args, *p.SlideCount)
		argIdx++
	}
	if status == models.JobStatusDecomposing {
		sets = append(sets, "started_at = NOW()")
	}
	if models.JobStatusTerminal(status) {
		sets = append(sets, "completed_at = NOW()")
	}

	conditions := []string{"id = $1", "status NOT IN ('completed', 'failed', 'cancelled')"}
	if p.ExpectedStatus != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *p.ExpectedStatus)
		argIdx++
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE jobs SET %s WHERE %s`,
			strings.Join(sets, ", "), strings.Join(conditions, " AND ")), args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check job exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) ListTerminalJobsBefore(ctx context.Context, cutoff time.Time, statuses []string) ([]*models.Job, error) {
	if len(statuses) == 0 {
		statuses = []string{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE created_at < $1 AND status = ANY($2)
		 ORDER BY created_at ASC`, cutoff, statuses)
	if err != nil {
		return nil, fmt.Errorf("list terminal jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job; slide tasks go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Voice clones ---

func (s *PostgresStore) CreateVoiceClone(ctx context.Context, clone *models.VoiceClone) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_clones (id, name, reference_ref, created_at) VALUES ($1, $2, $3, $4)`,
		clone.ID, clone.Name, clone.ReferenceRef, clone.CreatedAt)
	if err != nil {
		return fmt.Errorf("create voice clone: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVoiceClone(ctx context.Context, id uuid.UUID) (*models.VoiceClone, error) {
	var v models.VoiceClone
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, reference_ref, created_at FROM voice_clones WHERE id = $1`, id).
		Scan(&v.ID, &v.Name, &v.ReferenceRef, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get voice clone: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) ListVoiceClones(ctx context.Context) ([]*models.VoiceClone, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, reference_ref, created_at FROM voice_clones ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list voice clones: %w", err)
	}
	defer rows.Close()

	var clones []*models.VoiceClone
	for rows.Next() {
		var v models.VoiceClone
		if err := rows.Scan(&v.ID, &v.Name, &v.ReferenceRef, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan voice clone: %w", err)
		}
		clones = append(clones, &v)
	}
	return clones, rows.Err()
}

// --- Slide task ledger ---

// CreateSlideTasks inserts n pending rows for the job, slide indexes 1..n,
// in a single transaction so partial registration never survives a crash.
func (s *PostgresStore) CreateSlideTasks(ctx context.Context, jobID uuid.UUID, n int) error {
	if n < 1 {
		return fmt.Errorf("create slide tasks: n must be at least 1, got %d", n)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create slide tasks: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := 1; i <= n; i++ {
		if _, err := tx.Exec(ctx,
			`INSERT INTO slide_tasks (job_id, slide_index, status, created_at)
			 VALUES ($1, $2, $3, NOW())`,
			jobID, i, models.TaskStatusPending); err != nil {
			return fmt.Errorf("insert slide task %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create slide tasks: %w", err)
	}
	return nil
}

// MarkSlideTaskRunning moves a pending row to running. Rows that already
// reached a terminal status are left untouched; monotonicity over liveness.
func (s *PostgresStore) MarkSlideTaskRunning(ctx context.Context, jobID uuid.UUID, slideIndex int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE slide_tasks SET status = $3, started_at = NOW()
		 WHERE job_id = $1 AND slide_index = $2 AND status = $4`,
		jobID, slideIndex, models.TaskStatusRunning, models.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("mark slide task running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM slide_tasks WHERE job_id = $1 AND slide_index = $2)`,
			jobID, slideIndex).Scan(&exists); err != nil {
			return fmt.Errorf("check slide task exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("mark slide task %d: %w", slideIndex, ErrNotRunnable)
	}
	return nil
}

// MarkSlideTaskTerminal settles a slide task on a terminal status. Idempotent:
// re-applying the same terminal status is a no-op; a different terminal status
// on an already-terminal row returns ErrTerminalConflict.
func (s *PostgresStore) MarkSlideTaskTerminal(ctx context.Context, jobID uuid.UUID, slideIndex int, status string, opts ...TaskResultOption) error {
	if !models.TaskStatusTerminal(status) {
		return fmt.Errorf("mark slide task terminal: %q is not a terminal status", status)
	}

	var p taskResultParams
	for _, opt := range opts {
		opt(&p)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE slide_tasks
		 SET status = $3, audio_ref = COALESCE($4, audio_ref),
		     error_message = COALESCE($5, error_message), finished_at = NOW()
		 WHERE job_id = $1 AND slide_index = $2 AND status IN ('pending', 'running')`,
		jobID, slideIndex, status, p.AudioRef, p.ErrorMessage)
	if err != nil {
		return fmt.Errorf("mark slide task terminal: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No pending/running row matched: either a duplicate delivery or a conflict.
	var current string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM slide_tasks WHERE job_id = $1 AND slide_index = $2`,
		jobID, slideIndex).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read slide task status: %w", err)
	}
	if current == status {
		return nil
	}
	return fmt.Errorf("%w: have %s, got %s", ErrTerminalConflict, current, status)
}

func (s *PostgresStore) CountTerminalSlideTasks(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM slide_tasks
		 WHERE job_id = $1 AND status IN ('succeeded_primary', 'succeeded_fallback', 'succeeded_silence', 'failed')`,
		jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count terminal slide tasks: %w", err)
	}
	return n, nil
}

// ListSlideTasks returns every slide task for the job ordered by slide index.
func (s *PostgresStore) ListSlideTasks(ctx context.Context, jobID uuid.UUID) ([]*models.SlideTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, slide_index, status, audio_ref, error_message, started_at, finished_at, created_at
		 FROM slide_tasks WHERE job_id = $1 ORDER BY slide_index ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list slide tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.SlideTask
	for rows.Next() {
		var t models.SlideTask
		if err := rows.Scan(&t.JobID, &t.SlideIndex, &t.Status, &t.AudioRef, &t.ErrorMessage,
			&t.StartedAt, &t.FinishedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan slide task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
