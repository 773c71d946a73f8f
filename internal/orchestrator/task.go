package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/internal/storage"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/internal/tts"
	"github.com/slidecast/slidecast/pkg/models"
)

// slideTask is the unit of synthesis work for one slide.
type slideTask struct {
	jobID      uuid.UUID
	slideIndex int
	noteText   string
	voice      tts.VoiceRef
}

// executeSlideTask runs one slide through the synthesis fallback chain and
// records the terminal outcome in the ledger. It always resolves its ledger
// row and always signals the notify channel, whatever happened: the fan-in
// count depends on it.
func (o *Orchestrator) executeSlideTask(ctx context.Context, w slideWork) {
	t := w.task
	log := slog.With("job_id", t.jobID, "slide", t.slideIndex)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in slide task", "error", r)
			o.resolveTask(t, models.TaskStatusFailed, nil, fmt.Sprintf("panic: %v", r), log)
		}
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}()

	if err := o.store.MarkSlideTaskRunning(ctx, t.jobID, t.slideIndex); err != nil {
		if errors.Is(err, store.ErrNotRunnable) {
			// A duplicate delivery lost the claim race; the execution that
			// claimed the row owns its outcome.
			log.Warn("slide task already claimed", "error", err)
			return
		}
		// Claim failed for infrastructure reasons. Resolve the row so the
		// fan-in count still converges.
		o.resolveTask(t, models.TaskStatusFailed, nil, fmt.Sprintf("claim slide task: %v", err), log)
		return
	}

	clip, err := o.renderSupervised(ctx, t, log)
	if err != nil {
		o.resolveTask(t, models.TaskStatusFailed, nil, err.Error(), log)
		return
	}

	ref, err := o.putWithRetry(ctx, storage.BucketPresentations, storage.AudioKey(t.jobID, t.slideIndex), clip.Audio)
	if err != nil {
		// The synthesis result is lost to storage faults; degrade to a
		// locally generated silence clip before declaring failure.
		log.Warn("audio upload failed, degrading to silence", "error", err)
		clip = &tts.Clip{Audio: tts.SilenceWAV(o.cfg.SilenceDuration), Outcome: tts.OutcomeSilence}
		ref, err = o.putWithRetry(ctx, storage.BucketPresentations, storage.AudioKey(t.jobID, t.slideIndex), clip.Audio)
		if err != nil {
			o.resolveTask(t, models.TaskStatusFailed, nil, fmt.Sprintf("audio upload: %v", err), log)
			return
		}
	}

	o.resolveTask(t, clip.Outcome.TaskStatus(), &ref, "", log)
}

// renderSupervised runs the fallback chain under the hard time limit. The
// engine handles the soft limit itself; the hard limit here exists for a
// wedged backend that ignores cancellation. On hard timeout the render
// goroutine is abandoned with its context cancelled.
func (o *Orchestrator) renderSupervised(ctx context.Context, t *slideTask, log *slog.Logger) (*tts.Clip, error) {
	hardCtx, cancel := context.WithTimeout(ctx, o.cfg.HardTimeout)
	defer cancel()

	type result struct {
		clip *tts.Clip
		err  error
	}
	done := make(chan result, 1)
	go func() {
		clip, err := o.engine.Render(hardCtx, t.noteText, t.voice)
		done <- result{clip, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("synthesis: %w", r.err)
		}
		return r.clip, nil
	case <-hardCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesis interrupted: %w", ctx.Err())
		}
		log.Error("hard time limit exceeded", "limit", o.cfg.HardTimeout)
		return nil, fmt.Errorf("synthesis exceeded hard time limit %s", o.cfg.HardTimeout)
	}
}

// resolveTask writes the terminal outcome. Ledger writes survive the worker
// context on purpose: a result that arrives after cancellation or shutdown is
// still recorded, it just no longer drives fan-in.
func (o *Orchestrator) resolveTask(t *slideTask, status string, audioRef *string, errMsg string, log *slog.Logger) {
	opts := []store.TaskResultOption{}
	if audioRef != nil {
		opts = append(opts, store.WithAudioRef(*audioRef))
	}
	if errMsg != "" {
		opts = append(opts, store.WithTaskError(errMsg))
	}

	err := o.store.MarkSlideTaskTerminal(context.Background(), t.jobID, t.slideIndex, status, opts...)
	switch {
	case err == nil:
		log.Info("slide task resolved", "status", status)
	case errors.Is(err, store.ErrTerminalConflict):
		log.Warn("slide task already resolved differently", "attempted", status)
	default:
		log.Error("failed to resolve slide task", "status", status, "error", err)
	}
}
