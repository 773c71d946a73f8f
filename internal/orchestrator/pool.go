package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// slideWork is one synthesis sub-task handed to the pool.
type slideWork struct {
	task   *slideTask
	notify chan<- struct{}
}

// workerPool runs synthesis sub-tasks with bounded concurrency. Synthesis is
// the resource-intensive stage, typically backed by a single accelerator, so
// the pool is global across jobs: excess sub-tasks queue instead of spawning
// unbounded goroutines.
type workerPool struct {
	ch      chan slideWork
	workers int
	run     func(ctx context.Context, w slideWork)

	wg        sync.WaitGroup
	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newWorkerPool(workers, capacity int, run func(ctx context.Context, w slideWork)) *workerPool {
	if workers < 1 {
		workers = 1
	}
	if capacity < workers {
		capacity = workers
	}
	return &workerPool{
		ch:      make(chan slideWork, capacity),
		workers: workers,
		run:     run,
	}
}

// Start launches the worker goroutines.
func (p *workerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("worker pool already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.started = true
	return nil
}

func (p *workerPool) worker(ctx context.Context, idx int) {
	defer p.wg.Done()
	log := slog.With("worker", idx)
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-p.ch:
			if !ok {
				return
			}
			start := time.Now()
			p.run(ctx, w)
			log.Debug("slide task processed",
				"job_id", w.task.jobID,
				"slide", w.task.slideIndex,
				"duration", time.Since(start))
		}
	}
}

// Enqueue queues a sub-task, blocking while the queue is full. Blocking is
// the backpressure mechanism: fan-out never outruns the pool.
func (p *workerPool) Enqueue(ctx context.Context, w slideWork) error {
	select {
	case p.ch <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits up to the deadline for in-flight
// sub-tasks to finish.
func (p *workerPool) Shutdown(deadline time.Duration) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		close(p.ch)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			slog.Warn("worker pool shutdown deadline reached; workers may still be running")
		}
	})
}
