package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("slidecast_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func setupStore(t *testing.T) store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	return store.NewPostgresStore(setupTestDB(t))
}

func createTestVoice(t *testing.T, s store.Store) *models.VoiceClone {
	t.Helper()
	clone := &models.VoiceClone{
		ID:           uuid.New(),
		Name:         "narrator",
		ReferenceRef: "voices/narrator.wav",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateVoiceClone(context.Background(), clone))
	return clone
}

func createTestJob(t *testing.T, s store.Store) *models.Job {
	t.Helper()
	clone := createTestVoice(t, s)
	job := &models.Job{
		ID:           uuid.New(),
		Status:       models.JobStatusPending,
		SourceRef:    "ingest/" + uuid.NewString() + ".pptx",
		VoiceCloneID: clone.ID,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// --- Jobs ---

func TestCreateAndGetJob(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := createTestJob(t, s)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, job.SourceRef, got.SourceRef)
	assert.Nil(t, got.VideoRef)
	assert.False(t, got.Degraded)
}

func TestGetJob_NotFound(t *testing.T) {
	s := setupStore(t)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateJobStatus_PipelineWalk(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusDecomposing))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusSynthesizing, store.WithSlideCount(3)))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusAssembling))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithVideoRef("output/"+job.ID.String()+".mp4")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.SlideCount)
	require.NotNil(t, got.VideoRef)
	assert.Equal(t, "output/"+job.ID.String()+".mp4", *got.VideoRef)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
}

func TestUpdateJobStatus_PendingCanFail(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
		store.WithErrorMessage("source document could not be read")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
}

func TestUpdateJobStatus_TerminalIsAbsorbing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
		store.WithErrorMessage("conversion produced no slides")))

	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusDecomposing)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusCancelled)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no slides")
}

func TestUpdateJobStatus_CompareAndSet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	// Expected status does not match — transition is rejected.
	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusSynthesizing,
		store.WithExpectedStatus(models.JobStatusDecomposing))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusDecomposing,
		store.WithExpectedStatus(models.JobStatusPending)))
}

func TestUpdateJobStatus_NotFound(t *testing.T) {
	s := setupStore(t)

	err := s.UpdateJobStatus(context.Background(), uuid.New(), models.JobStatusDecomposing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListJobs_FilterAndPagination(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		createTestJob(t, s)
	}
	failed := createTestJob(t, s)
	require.NoError(t, s.UpdateJobStatus(ctx, failed.ID, models.JobStatusFailed))

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusPending})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, jobs, 3)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, jobs, 2)
}

func TestCountJobsByStatus(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	createTestJob(t, s)
	failed := createTestJob(t, s)
	require.NoError(t, s.UpdateJobStatus(ctx, failed.ID, models.JobStatusFailed))

	counts, err := s.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.JobStatusPending])
	assert.Equal(t, 1, counts[models.JobStatusFailed])
}

func TestDeleteJob_CascadesToSlideTasks(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	require.NoError(t, s.CreateSlideTasks(ctx, job.ID, 2))
	require.NoError(t, s.DeleteJob(ctx, job.ID))

	_, err := s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	tasks, err := s.ListSlideTasks(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// --- Slide task ledger ---

func TestCreateSlideTasks_OrderedPendingRows(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	require.NoError(t, s.CreateSlideTasks(ctx, job.ID, 4))

	tasks, err := s.ListSlideTasks(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for i, task := range tasks {
		assert.Equal(t, i+1, task.SlideIndex)
		assert.Equal(t, models.TaskStatusPending, task.Status)
	}
}

func TestCreateSlideTasks_RejectsZero(t *testing.T) {
	s := setupStore(t)
	job := createTestJob(t, s)

	err := s.CreateSlideTasks(context.Background(), job.ID, 0)
	require.Error(t, err)
}

func TestMarkSlideTaskTerminal_Idempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)
	require.NoError(t, s.CreateSlideTasks(ctx, job.ID, 1))

	require.NoError(t, s.MarkSlideTaskRunning(ctx, job.ID, 1))
	require.NoError(t, s.MarkSlideTaskTerminal(ctx, job.ID, 1,
		models.TaskStatusSucceededPrimary, store.WithAudioRef("presentations/x/audio/slide_1.wav")))

	// Same terminal status again: no-op, no error.
	require.NoError(t, s.MarkSlideTaskTerminal(ctx, job.ID, 1,
		models.TaskStatusSucceededPrimary, store.WithAudioRef("presentations/x/audio/slide_1.wav")))

	tasks, err := s.ListSlideTasks(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusSucceededPrimary, tasks[0].Status)
	require.NotNil(t, tasks[0].AudioRef)
}

func TestMarkSlideTaskTerminal_ConflictRejected(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)
	require.NoError(t, s.CreateSlideTasks(ctx, job.ID, 1))

	require.NoError(t, s.MarkSlideTaskTerminal(ctx, job.ID, 1, models.TaskStatusSucceededSilence))

	err := s.MarkSlideTaskTerminal(ctx, job.ID, 1, models.TaskStatusFailed)
	assert.ErrorIs(t, err, store.ErrTerminalConflict)

	// Monotonicity: the first terminal value survives.
	tasks, err := s.ListSlideTasks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSucceededSilence, tasks[0].Status)
}

func TestMarkSlideTaskTerminal_RejectsNonTerminalStatus(t *testing.T) {
	s := setupStore(t)
	job := createTestJob(t, s)

	err := s.MarkSlideTaskTerminal(context.Background(), job.ID, 1, models.TaskStatusRunning)
	require.Error(t, err)
}

func TestMarkSlideTaskRunning_DoesNotRevertTerminal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)
	require.NoError(t, s.CreateSlideTasks(ctx, job.ID, 1))

	require.NoError(t, s.MarkSlideTaskTerminal(ctx, job.ID, 1, models.TaskStatusFailed,
		store.WithTaskError("worker wedged past hard timeout")))

	err := s.MarkSlideTaskRunning(ctx, job.ID, 1)
	assert.ErrorIs(t, err, store.ErrNotRunnable)

	tasks, err := s.ListSlideTasks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)
}

func TestMarkSlideTaskRunning_SecondClaimRejected(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)
	require.NoError(t, s.CreateSlideTasks(ctx, job.ID, 1))

	require.NoError(t, s.MarkSlideTaskRunning(ctx, job.ID, 1))

	err := s.MarkSlideTaskRunning(ctx, job.ID, 1)
	assert.ErrorIs(t, err, store.ErrNotRunnable)

	err = s.MarkSlideTaskRunning(ctx, job.ID, 99)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCountTerminalSlideTasks(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)
	require.NoError(t, s.CreateSlideTasks(ctx, job.ID, 3))

	n, err := s.CountTerminalSlideTasks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.MarkSlideTaskTerminal(ctx, job.ID, 2, models.TaskStatusSucceededPrimary))
	require.NoError(t, s.MarkSlideTaskTerminal(ctx, job.ID, 3, models.TaskStatusSucceededFallback))

	n, err = s.CountTerminalSlideTasks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.MarkSlideTaskTerminal(ctx, job.ID, 1, models.TaskStatusFailed))

	n, err = s.CountTerminalSlideTasks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// --- Voice clones ---

func TestVoiceCloneRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	clone := createTestVoice(t, s)

	got, err := s.GetVoiceClone(ctx, clone.ID)
	require.NoError(t, err)
	assert.Equal(t, clone.Name, got.Name)
	assert.False(t, got.Builtin())

	all, err := s.ListVoiceClones(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListTerminalJobsBefore(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	old := createTestJob(t, s)
	require.NoError(t, s.UpdateJobStatus(ctx, old.ID, models.JobStatusCompleted,
		store.WithVideoRef("output/"+old.ID.String()+".mp4")))

	// Still pending: must never show up regardless of age.
	createTestJob(t, s)

	jobs, err := s.ListTerminalJobsBefore(ctx, time.Now().UTC().Add(time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, old.ID, jobs[0].ID)

	jobs, err = s.ListTerminalJobsBefore(ctx, time.Now().UTC().Add(-time.Hour), nil)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
