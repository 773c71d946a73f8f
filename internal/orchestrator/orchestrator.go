// Package orchestrator drives presentation jobs through the conversion,
// synthesis and assembly stages, owning fan-out and fan-in of per-slide work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/internal/assembler"
	"github.com/slidecast/slidecast/internal/cache"
	"github.com/slidecast/slidecast/internal/converter"
	"github.com/slidecast/slidecast/internal/storage"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/internal/tts"
	"github.com/slidecast/slidecast/pkg/models"
)

var (
	// ErrNotPending is returned by Start for jobs past the Pending state;
	// a job is retried by creating a new one, never by restarting.
	ErrNotPending = errors.New("job is not pending")

	// errJobHalted aborts the pipeline internally once a job reaches a
	// terminal state under our feet (cancellation, mostly).
	errJobHalted = errors.New("job reached terminal state")
)

// Config holds the orchestrator's tuning knobs, sourced from the process
// configuration at startup.
type Config struct {
	Workers           int
	QueueCapacity     int
	HardTimeout       time.Duration
	SilenceDuration   time.Duration
	ReconcileInterval time.Duration
	StatusCacheTTL    time.Duration
	StorageRetries    int
}

// Orchestrator is the single writer of job and slide-task state. Collaborators
// report results back through it; they never mutate records directly.
type Orchestrator struct {
	store     store.Store
	cache     cache.Cache
	storage   storage.Gateway
	converter converter.Client
	engine    *tts.Engine
	assembler assembler.Client
	cfg       Config

	pool *workerPool
}

// New creates an Orchestrator. Call Run before starting jobs and Shutdown on
// process exit.
func New(st store.Store, ca cache.Cache, gw storage.Gateway, conv converter.Client,
	engine *tts.Engine, asm assembler.Client, cfg Config) *Orchestrator {

	o := &Orchestrator{
		store:     st,
		cache:     ca,
		storage:   gw,
		converter: conv,
		engine:    engine,
		assembler: asm,
		cfg:       cfg,
	}
	o.pool = newWorkerPool(cfg.Workers, cfg.QueueCapacity, o.executeSlideTask)
	return o
}

// Run starts the synthesis worker pool.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.pool.Start(ctx)
}

// Shutdown drains the worker pool, waiting up to the deadline.
func (o *Orchestrator) Shutdown(deadline time.Duration) {
	o.pool.Shutdown(deadline)
}

// Start validates that the job is pending and launches the pipeline in a
// background goroutine. Returns immediately; clients poll for status.
func (o *Orchestrator) Start(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: status is %s", ErrNotPending, job.Status)
	}

	go o.runPipeline(job)
	return nil
}

// Cancel transitions the job to Cancelled. Advisory to in-flight sub-tasks:
// they finish or time out normally, and their ledger writes are still
// accepted, but no fan-in action fires on a terminal job.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	err := o.store.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled)
	if err != nil {
		return err
	}
	o.mirrorStatus(ctx, jobID, models.JobStatusCancelled)
	slog.Info("job cancelled", "job_id", jobID)
	return nil
}

// runPipeline drives one job to a terminal state. It recovers from panics and
// always leaves the job terminal or consistently resumable.
func (o *Orchestrator) runPipeline(job *models.Job) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in pipeline", "error", r, "job_id", job.ID)
			o.failJob(ctx, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	res, voice, err := o.decompose(ctx, job)
	if err != nil {
		if !errors.Is(err, errJobHalted) {
			o.failJob(ctx, job.ID, err.Error())
		}
		return
	}
	n := len(res.ImageRefs)

	notify := make(chan struct{}, n)
	for i := 1; i <= n; i++ {
		w := slideWork{
			task: &slideTask{
				jobID:      job.ID,
				slideIndex: i,
				noteText:   res.Notes[i-1],
				voice:      voice,
			},
			notify: notify,
		}
		if err := o.pool.Enqueue(ctx, w); err != nil {
			o.failJob(ctx, job.ID, fmt.Sprintf("enqueue slide %d: %v", i, err))
			return
		}
	}
	slog.Info("synthesis fan-out dispatched", "job_id", job.ID, "slides", n)

	if err := o.awaitFanIn(ctx, job.ID, n, notify); err != nil {
		if !errors.Is(err, errJobHalted) {
			o.failJob(ctx, job.ID, err.Error())
		}
		return
	}

	o.assemble(ctx, job.ID, res.ImageRefs, n)
}

// decompose runs the conversion stage: convert the document, persist the
// per-slide notes, register the ledger rows, and resolve the voice reference.
// Storage failures here are fatal, not retried; so is any conversion defect.
func (o *Orchestrator) decompose(ctx context.Context, job *models.Job) (*converter.Result, tts.VoiceRef, error) {
	var none tts.VoiceRef

	if err := o.setStatus(ctx, job.ID, models.JobStatusDecomposing, store.WithExpectedStatus(models.JobStatusPending)); err != nil {
		return nil, none, err
	}

	res, err := o.converter.Convert(ctx, job.SourceRef)
	if err != nil {
		return nil, none, fmt.Errorf("conversion: %w", err)
	}
	if len(res.ImageRefs) == 0 {
		return nil, none, fmt.Errorf("conversion: %w: presentation yielded no slides", converter.ErrConversionFailed)
	}
	n := len(res.ImageRefs)

	for i, note := range res.Notes {
		key := storage.NoteKey(job.ID, i+1)
		if _, err := o.storage.Put(ctx, storage.BucketPresentations, key, []byte(note)); err != nil {
			return nil, none, fmt.Errorf("persist note for slide %d: %w", i+1, err)
		}
	}

	voice, err := o.resolveVoice(ctx, job.VoiceCloneID)
	if err != nil {
		return nil, none, err
	}

	// Ledger rows must exist before the stage advances: durability precedes
	// dispatch, so a crash here leaves a consistent, resumable record.
	if err := o.store.CreateSlideTasks(ctx, job.ID, n); err != nil {
		return nil, none, fmt.Errorf("register slide tasks: %w", err)
	}

	err = o.setStatus(ctx, job.ID, models.JobStatusSynthesizing,
		store.WithExpectedStatus(models.JobStatusDecomposing), store.WithSlideCount(n))
	if err != nil {
		return nil, none, err
	}
	return res, voice, nil
}

func (o *Orchestrator) resolveVoice(ctx context.Context, cloneID uuid.UUID) (tts.VoiceRef, error) {
	clone, err := o.store.GetVoiceClone(ctx, cloneID)
	if err != nil {
		return tts.VoiceRef{}, fmt.Errorf("loading voice clone: %w", err)
	}
	if clone.Builtin() {
		return tts.VoiceRef{SpeakerName: clone.SpeakerName()}, nil
	}
	audio, err := o.storage.Get(ctx, clone.ReferenceRef)
	if err != nil {
		return tts.VoiceRef{}, fmt.Errorf("loading voice reference audio: %w", err)
	}
	return tts.VoiceRef{ReferenceAudio: audio}, nil
}

// maxFanInReadErrors bounds consecutive ledger read failures tolerated while
// waiting for fan-in before the job is declared failed.
const maxFanInReadErrors = 5

// awaitFanIn blocks until every slide task is terminal. Completion is
// count-based against the ledger, never time-based: each notification or
// reconciliation tick re-checks the true terminal count, so a single lost
// notification delays fan-in by at most one tick instead of deadlocking.
// Transient read errors are absorbed the same way: the wait holds until the
// next tick, and only a run of consecutive failures aborts the job.
func (o *Orchestrator) awaitFanIn(ctx context.Context, jobID uuid.UUID, n int, notify <-chan struct{}) error {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()

	readErrors := 0
	for {
		ok, err := o.checkFanIn(ctx, jobID, n)
		if err != nil {
			if errors.Is(err, errJobHalted) {
				return err
			}
			readErrors++
			if readErrors >= maxFanInReadErrors {
				return fmt.Errorf("fan-in check failed %d times: %w", readErrors, err)
			}
			slog.Warn("fan-in check failed, retrying on next tick",
				"job_id", jobID, "attempt", readErrors, "error", err)
		} else {
			readErrors = 0
			if ok {
				return nil
			}
		}

		select {
		case <-notify:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// checkFanIn performs one fan-in read: true when every slide task is
// terminal, errJobHalted when the job itself went terminal under our feet.
func (o *Orchestrator) checkFanIn(ctx context.Context, jobID uuid.UUID, n int) (bool, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("fan-in status check: %w", err)
	}
	if job.Terminal() {
		slog.Info("fan-in abandoned, job is terminal", "job_id", jobID, "status", job.Status)
		return false, errJobHalted
	}

	count, err := o.store.CountTerminalSlideTasks(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("fan-in count: %w", err)
	}
	if count >= n {
		slog.Info("fan-in satisfied", "job_id", jobID, "terminal", count, "total", n)
		return true, nil
	}
	return false, nil
}

// assemble builds the ordered slide→audio mapping and invokes the assembler.
func (o *Orchestrator) assemble(ctx context.Context, jobID uuid.UUID, imageRefs []string, n int) {
	audioRefs, degraded, err := o.buildAudioList(ctx, jobID, n)
	if err != nil {
		o.failJob(ctx, jobID, err.Error())
		return
	}

	err = o.setStatus(ctx, jobID, models.JobStatusAssembling, store.WithExpectedStatus(models.JobStatusSynthesizing))
	if errors.Is(err, store.ErrInvalidTransition) {
		// Cancelled between fan-in and assembly: discard the results.
		slog.Info("assembly skipped, job no longer synthesizing", "job_id", jobID)
		return
	}
	if err != nil {
		o.failJob(ctx, jobID, err.Error())
		return
	}

	outputRef := storage.Ref(storage.BucketOutput, storage.VideoKey(jobID))
	videoRef, err := o.assembler.Assemble(ctx, assembler.Request{
		ImageRefs: imageRefs,
		AudioRefs: audioRefs,
		OutputRef: outputRef,
	})
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("assembly: %v", err))
		return
	}

	err = o.setStatus(ctx, jobID, models.JobStatusCompleted,
		store.WithExpectedStatus(models.JobStatusAssembling),
		store.WithVideoRef(videoRef), store.WithDegraded(degraded))
	if err != nil {
		slog.Error("failed to complete job", "job_id", jobID, "error", err)
		return
	}
	slog.Info("job completed", "job_id", jobID, "video_ref", videoRef, "degraded", degraded)
}

// buildAudioList returns the audio references in slide-index order, one per
// slide regardless of the order completions arrived in. Slides that failed
// outright get a generated silence clip so the video always has n entries.
// Degraded is true when any slide settled below the primary layer.
func (o *Orchestrator) buildAudioList(ctx context.Context, jobID uuid.UUID, n int) ([]string, bool, error) {
	tasks, err := o.store.ListSlideTasks(ctx, jobID)
	if err != nil {
		return nil, false, fmt.Errorf("listing slide tasks: %w", err)
	}
	if len(tasks) != n {
		return nil, false, fmt.Errorf("ledger holds %d slide tasks, expected %d", len(tasks), n)
	}

	audioRefs := make([]string, 0, n)
	degraded := false
	for _, task := range tasks {
		if task.Status != models.TaskStatusSucceededPrimary {
			degraded = true
		}
		if models.TaskStatusSucceeded(task.Status) && task.AudioRef != nil {
			audioRefs = append(audioRefs, *task.AudioRef)
			continue
		}

		// Failed slide: the video still needs an entry at this index.
		clip := tts.SilenceWAV(o.cfg.SilenceDuration)
		ref, err := o.putWithRetry(ctx, storage.BucketPresentations, storage.AudioKey(jobID, task.SlideIndex), clip)
		if err != nil {
			return nil, false, fmt.Errorf("silence for failed slide %d: %w", task.SlideIndex, err)
		}
		audioRefs = append(audioRefs, ref)
	}
	return audioRefs, degraded, nil
}

// setStatus persists a job transition and mirrors it to the cache. The store
// write always happens first: durability precedes any downstream action.
func (o *Orchestrator) setStatus(ctx context.Context, jobID uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	if err := o.store.UpdateJobStatus(ctx, jobID, status, opts...); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("transition to %s: %w", status, err)
		}
		return fmt.Errorf("persist status %s: %w", status, err)
	}
	o.mirrorStatus(ctx, jobID, status)
	return nil
}

func (o *Orchestrator) mirrorStatus(ctx context.Context, jobID uuid.UUID, status string) {
	if err := o.cache.SetJobStatus(ctx, jobID, status, o.cfg.StatusCacheTTL); err != nil {
		slog.Warn("status cache write failed", "job_id", jobID, "error", err)
	}
}

// failJob marks the job failed with the most specific fault message. A
// best-effort write: the job may have gone terminal already (cancellation),
// which is fine.
func (o *Orchestrator) failJob(ctx context.Context, jobID uuid.UUID, msg string) {
	err := o.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, store.WithErrorMessage(msg))
	if errors.Is(err, store.ErrInvalidTransition) {
		return
	}
	if err != nil {
		slog.Error("failed to mark job failed", "job_id", jobID, "error", err)
		return
	}
	o.mirrorStatus(ctx, jobID, models.JobStatusFailed)
	slog.Error("job failed", "job_id", jobID, "reason", msg)
}

// putWithRetry uploads with bounded attempts; transient storage faults get a
// short backoff before escalating to the caller.
func (o *Orchestrator) putWithRetry(ctx context.Context, bucket, key string, data []byte) (string, error) {
	attempts := o.cfg.StorageRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		ref, err := o.storage.Put(ctx, bucket, key, data)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
	}
	return "", lastErr
}
