// Package worker runs background synchronization jobs pulled off a queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/baseline/internal/domain/model"
	"github.com/okian/baseline/pkg/logger"
	"github.com/okian/baseline/pkg/metrics"
)

// poolShutdownTimeout bounds how long Shutdown waits for workers.
const poolShutdownTimeout = 30 * time.Second

// Job abstracts what workers read off the queue.
type Job = model.Job

// Handler performs one job.
type Handler interface {
	Handle(ctx context.Context, j Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j Job) error

// Handle calls f(ctx, j).
func (f HandlerFunc) Handle(ctx context.Context, j Job) error { return f(ctx, j) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes jobs using the provided handler.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	name    string
	gate    *Gate

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		handler:  handler,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Discard(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop. A paused gate holds jobs that were already
// picked up until it is reopened.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		if !w.gate.wait(ctx, w.shutdown) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if !w.gate.wait(ctx, w.shutdown) {
				return
			}
			if err := w.process(ctx, job); err != nil {
				w.logger.Warn(ctx, "job failed", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job Job) error {
	start := time.Now()
	err := w.handler.Handle(ctx, job)
	metrics.RecordJobLatency(string(job.Kind), float64(time.Since(start).Milliseconds()))

	if err != nil {
		metrics.RecordSyncError(string(job.Kind))
		metrics.RecordErrorByComponent("worker", "job_error")
		return fmt.Errorf("%s job %q (attempt %d): %w", job.Kind, job.Key(), job.Attempt, err)
	}
	return nil
}

// Gate blocks job pickup while closed.
type Gate struct {
	mu     sync.Mutex
	paused bool
	open   chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{}
}

// Pause closes the gate. It is idempotent.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.open = make(chan struct{})
	metrics.UpdateWorkersPaused(true)
}

// Resume reopens the gate and releases every waiting worker.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.open)
	metrics.UpdateWorkersPaused(false)
}

// Paused reports whether the gate is closed.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// wait blocks while the gate is closed. It returns false when ctx or stop
// ends first. A nil gate is always open.
func (g *Gate) wait(ctx context.Context, stop <-chan struct{}) bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return true
	}
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}

// Pool manages multiple workers sharing one gate.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	gate    *Gate

	logger logger.Logger
}

// NewPool creates a new worker pool. A non-positive workerCount uses one
// worker per CPU.
func NewPool(workerCount int, queue Queue, handler Handler, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		gate:    NewGate(),
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(pool)
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(
			queue,
			handler,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(pool.logger),
			WithGate(pool.gate),
		)
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkersPaused(false)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Pause stops workers from picking up new jobs. Jobs in flight finish.
func (p *Pool) Pause() { p.gate.Pause() }

// Resume lets workers pick up jobs again.
func (p *Pool) Resume() { p.gate.Resume() }

// Paused reports whether the pool is paused.
func (p *Pool) Paused() bool { return p.gate.Paused() }

// Shutdown closes the queue and waits for every worker to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for _, w := range p.workers {
		w.shutdownOnce.Do(func() { close(w.shutdown) })
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
		}
	}

	metrics.UpdateWorkerCount(0)
	return nil
}
