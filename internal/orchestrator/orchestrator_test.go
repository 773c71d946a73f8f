package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidecast/slidecast/internal/assembler"
	"github.com/slidecast/slidecast/internal/cache"
	"github.com/slidecast/slidecast/internal/converter"
	"github.com/slidecast/slidecast/internal/storage"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/internal/tts"
	"github.com/slidecast/slidecast/internal/tts/mock"
	"github.com/slidecast/slidecast/pkg/models"
)

type stubConverter struct {
	fn func(ctx context.Context, documentRef string) (*converter.Result, error)
}

func (c *stubConverter) Convert(ctx context.Context, documentRef string) (*converter.Result, error) {
	return c.fn(ctx, documentRef)
}

func deckConverter(notes ...string) *stubConverter {
	return &stubConverter{fn: func(_ context.Context, _ string) (*converter.Result, error) {
		images := make([]string, len(notes))
		for i := range notes {
			images[i] = fmt.Sprintf("presentations/deck/slide_%d.png", i+1)
		}
		return &converter.Result{ImageRefs: images, Notes: notes}, nil
	}}
}

type stubAssembler struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req assembler.Request) (string, error)
}

func (a *stubAssembler) Assemble(ctx context.Context, req assembler.Request) (string, error) {
	a.calls.Add(1)
	if a.fn != nil {
		return a.fn(ctx, req)
	}
	return req.OutputRef, nil
}

type harness struct {
	orch    *Orchestrator
	store   *store.MemoryStore
	cache   *cache.MemoryCache
	gateway *storage.MemoryGateway
	asm     *stubAssembler
}

func newHarness(t *testing.T, synth tts.Synthesizer, conv converter.Client, mut func(*Config)) *harness {
	t.Helper()

	cfg := Config{
		Workers:           2,
		QueueCapacity:     16,
		HardTimeout:       5 * time.Second,
		SilenceDuration:   50 * time.Millisecond,
		ReconcileInterval: 25 * time.Millisecond,
		StatusCacheTTL:    time.Minute,
		StorageRetries:    2,
	}
	if mut != nil {
		mut(&cfg)
	}

	h := &harness{
		store:   store.NewMemoryStore(),
		cache:   cache.NewMemoryCache(),
		gateway: storage.NewMemoryGateway(),
		asm:     &stubAssembler{},
	}
	engine := tts.NewEngine(synth, time.Second, cfg.SilenceDuration)
	h.orch = New(h.store, h.cache, h.gateway, conv, engine, h.asm, cfg)

	require.NoError(t, h.orch.Run(context.Background()))
	t.Cleanup(func() { h.orch.Shutdown(2 * time.Second) })
	return h
}

func (h *harness) seedJob(t *testing.T, referenceRef string) *models.Job {
	t.Helper()
	ctx := context.Background()

	clone := &models.VoiceClone{Name: "narrator", ReferenceRef: referenceRef}
	require.NoError(t, h.store.CreateVoiceClone(ctx, clone))
	if !clone.Builtin() {
		_, err := h.gateway.Put(ctx, storage.BucketVoices, "narrator.wav", []byte("reference audio"))
		require.NoError(t, err)
	}

	job := &models.Job{SourceRef: "ingest/deck.pptx", VoiceCloneID: clone.ID}
	require.NoError(t, h.store.CreateJob(ctx, job))
	return job
}

func (h *harness) waitTerminal(t *testing.T, jobID uuid.UUID) *models.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(context.Background(), jobID)
		return err == nil && job.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	job, err := h.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestPipelineCompletesWithClonedVoice(t *testing.T) {
	h := newHarness(t, mock.NewSynthesizer(), deckConverter("Intro.", "Details.", "Summary."), nil)
	job := h.seedJob(t, storage.Ref(storage.BucketVoices, "narrator.wav"))

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.False(t, done.Degraded)
	assert.Equal(t, 3, done.SlideCount)
	require.NotNil(t, done.VideoRef)
	assert.Equal(t, storage.Ref(storage.BucketOutput, storage.VideoKey(job.ID)), *done.VideoRef)

	tasks, err := h.store.ListSlideTasks(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, models.TaskStatusSucceededPrimary, task.Status)
		require.NotNil(t, task.AudioRef)
		audio, err := h.gateway.Get(context.Background(), *task.AudioRef)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(audio), "cloned:"))
	}

	status, ok, err := h.cache.GetJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, status)
}

func TestPipelineDegradesWhenCloningFails(t *testing.T) {
	h := newHarness(t, mock.NewCloneFailing(), deckConverter("One.", "Two."), nil)
	job := h.seedJob(t, storage.Ref(storage.BucketVoices, "narrator.wav"))

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.True(t, done.Degraded)

	tasks, err := h.store.ListSlideTasks(context.Background(), job.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, models.TaskStatusSucceededFallback, task.Status)
	}
}

func TestPipelineDegradesToSilenceWhenSynthesisFails(t *testing.T) {
	synth := &mock.Synthesizer{
		SynthesizeBaseFunc: func(_ context.Context, _ string, _ tts.Directives) ([]byte, error) {
			return nil, tts.ErrSynthesisFailed
		},
	}
	h := newHarness(t, synth, deckConverter("Only slide."), nil)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.True(t, done.Degraded)

	tasks, err := h.store.ListSlideTasks(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusSucceededSilence, tasks[0].Status)
}

func TestEmptyNoteSkipsSynthesisLayers(t *testing.T) {
	var baseCalls atomic.Int32
	synth := &mock.Synthesizer{
		SynthesizeBaseFunc: func(_ context.Context, text string, _ tts.Directives) ([]byte, error) {
			baseCalls.Add(1)
			return []byte("base:" + text), nil
		},
	}
	h := newHarness(t, synth, deckConverter("Spoken.", "   "), nil)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.True(t, done.Degraded)
	assert.Equal(t, int32(1), baseCalls.Load())

	tasks, err := h.store.ListSlideTasks(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSucceededSilence, tasks[1].Status)
}

func TestHardTimeoutFailsSlideButJobCompletes(t *testing.T) {
	// Blocks regardless of context cancellation, the way a wedged synthesis
	// backend would.
	wedged := func(ctx context.Context, _ string, _ tts.Directives) ([]byte, error) {
		select {}
	}
	synth := &mock.Synthesizer{
		SynthesizeBaseFunc: func(ctx context.Context, text string, d tts.Directives) ([]byte, error) {
			if strings.Contains(text, "wedge") {
				return wedged(ctx, text, d)
			}
			return []byte("base:" + text), nil
		},
	}
	h := newHarness(t, synth, deckConverter("Fine.", "Please wedge here."), func(cfg *Config) {
		cfg.HardTimeout = 150 * time.Millisecond
	})
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.True(t, done.Degraded)

	tasks, err := h.store.ListSlideTasks(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, models.TaskStatusSucceededPrimary, tasks[0].Status)
	assert.Equal(t, models.TaskStatusFailed, tasks[1].Status)
	require.NotNil(t, tasks[1].ErrorMessage)
	assert.Contains(t, *tasks[1].ErrorMessage, "hard time limit")

	// The failed slide still occupies its position in the video, backed by
	// a generated silence clip.
	assert.Equal(t, int32(1), h.asm.calls.Load())
	silence, err := h.gateway.Get(context.Background(), storage.Ref(storage.BucketPresentations, storage.AudioKey(job.ID, 2)))
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(silence[:4]))
}

func TestConversionFailureFailsJob(t *testing.T) {
	conv := &stubConverter{fn: func(_ context.Context, _ string) (*converter.Result, error) {
		return nil, fmt.Errorf("%w: corrupted document", converter.ErrConversionFailed)
	}}
	h := newHarness(t, mock.NewSynthesizer(), conv, nil)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "corrupted document")
	assert.Equal(t, int32(0), h.asm.calls.Load())
}

func TestEmptyDeckFailsJob(t *testing.T) {
	conv := &stubConverter{fn: func(_ context.Context, _ string) (*converter.Result, error) {
		return &converter.Result{}, nil
	}}
	h := newHarness(t, mock.NewSynthesizer(), conv, nil)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "no slides")
}

func TestNotePersistFailureFailsJob(t *testing.T) {
	h := newHarness(t, mock.NewSynthesizer(), deckConverter("One."), nil)
	h.gateway.PutErr = errors.New("storage offline")
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "storage offline")
}

func TestAssemblyFailureFailsJob(t *testing.T) {
	h := newHarness(t, mock.NewSynthesizer(), deckConverter("One."), nil)
	h.asm.fn = func(_ context.Context, _ assembler.Request) (string, error) {
		return "", fmt.Errorf("%w: codec error", assembler.ErrAssemblyFailed)
	}
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "codec error")
}

func TestAssemblyInputsStaySlideOrdered(t *testing.T) {
	// Later slides finish first; the audio list must still follow slide
	// order, not completion order.
	synth := &mock.Synthesizer{
		SynthesizeBaseFunc: func(_ context.Context, text string, _ tts.Directives) ([]byte, error) {
			if strings.Contains(text, "first") {
				time.Sleep(100 * time.Millisecond)
			}
			return []byte("base:" + text), nil
		},
	}
	var got assembler.Request
	h := newHarness(t, synth, deckConverter("the first slide", "second", "third", "fourth"), func(cfg *Config) {
		cfg.Workers = 4
	})
	h.asm.fn = func(_ context.Context, req assembler.Request) (string, error) {
		got = req
		return req.OutputRef, nil
	}
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status)

	require.Len(t, got.AudioRefs, 4)
	for i, ref := range got.AudioRefs {
		assert.Equal(t, storage.Ref(storage.BucketPresentations, storage.AudioKey(job.ID, i+1)), ref)
	}
	require.Len(t, got.ImageRefs, 4)
	assert.Equal(t, "presentations/deck/slide_1.png", got.ImageRefs[0])
}

func TestCancelSkipsAssembly(t *testing.T) {
	release := make(chan struct{})
	synth := &mock.Synthesizer{
		SynthesizeBaseFunc: func(ctx context.Context, text string, _ tts.Directives) ([]byte, error) {
			select {
			case <-release:
				return []byte("base:" + text), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	h := newHarness(t, synth, deckConverter("One.", "Two."), nil)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	require.Eventually(t, func() bool {
		cur, err := h.store.GetJob(context.Background(), job.ID)
		return err == nil && cur.Status == models.JobStatusSynthesizing
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.orch.Cancel(context.Background(), job.ID))
	close(release)

	// In-flight sub-tasks may still settle in the ledger, but the job stays
	// cancelled and nothing is assembled.
	require.Eventually(t, func() bool {
		count, err := h.store.CountTerminalSlideTasks(context.Background(), job.ID)
		return err == nil && count == 2
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(3 * h.orch.cfg.ReconcileInterval)

	done, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, done.Status)
	assert.Equal(t, int32(0), h.asm.calls.Load())
}

func TestCancelTerminalJobRejected(t *testing.T) {
	h := newHarness(t, mock.NewSynthesizer(), deckConverter("One."), nil)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status)

	err := h.orch.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestStartRejectsNonPendingJob(t *testing.T) {
	h := newHarness(t, mock.NewSynthesizer(), deckConverter("One."), nil)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.store.UpdateJobStatus(context.Background(), job.ID, models.JobStatusDecomposing))

	err := h.orch.Start(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrNotPending)
}

// flakyStore injects failures into the fan-in read path.
type flakyStore struct {
	*store.MemoryStore
	countFailures atomic.Int32
}

func (s *flakyStore) CountTerminalSlideTasks(ctx context.Context, jobID uuid.UUID) (int, error) {
	if s.countFailures.Add(-1) >= 0 {
		return 0, errors.New("connection reset by peer")
	}
	return s.MemoryStore.CountTerminalSlideTasks(ctx, jobID)
}

func newFlakyHarness(t *testing.T, failures int32) *harness {
	t.Helper()
	cfg := Config{
		Workers:           2,
		QueueCapacity:     16,
		HardTimeout:       5 * time.Second,
		SilenceDuration:   50 * time.Millisecond,
		ReconcileInterval: 25 * time.Millisecond,
		StatusCacheTTL:    time.Minute,
		StorageRetries:    2,
	}
	h := &harness{
		store:   store.NewMemoryStore(),
		cache:   cache.NewMemoryCache(),
		gateway: storage.NewMemoryGateway(),
		asm:     &stubAssembler{},
	}
	flaky := &flakyStore{MemoryStore: h.store}
	flaky.countFailures.Store(failures)

	engine := tts.NewEngine(mock.NewSynthesizer(), time.Second, cfg.SilenceDuration)
	h.orch = New(flaky, h.cache, h.gateway, deckConverter("One.", "Two."), engine, h.asm, cfg)
	require.NoError(t, h.orch.Run(context.Background()))
	t.Cleanup(func() { h.orch.Shutdown(2 * time.Second) })
	return h
}

func TestFanInSurvivesTransientReadErrors(t *testing.T) {
	// A couple of failed ledger reads hold the wait until the next tick;
	// they never fail a job whose slides all succeeded.
	h := newFlakyHarness(t, 2)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.False(t, done.Degraded)
	assert.Equal(t, int32(1), h.asm.calls.Load())
}

func TestFanInFailsAfterPersistentReadErrors(t *testing.T) {
	h := newFlakyHarness(t, 1<<30)
	job := h.seedJob(t, models.BuiltinVoicePrefix+"en-default")

	require.NoError(t, h.orch.Start(context.Background(), job.ID))
	done := h.waitTerminal(t, job.ID)

	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "fan-in")
	assert.Equal(t, int32(0), h.asm.calls.Load())
}

func TestStartUnknownJob(t *testing.T) {
	h := newHarness(t, mock.NewSynthesizer(), deckConverter("One."), nil)

	err := h.orch.Start(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
