// Package worker runs queued jobs on a small pool of goroutines. The
// tracker uses it to persist trail points off the reconciler's critical
// section.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/crewmap/internal/adapters/mq/queue"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 2
	poolShutdownTimeout = 30 * time.Second
)

// Handler processes one job.
type Handler[T any] interface {
	Handle(ctx context.Context, job T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, job T) error

// Handle calls f(ctx, job).
func (f HandlerFunc[T]) Handle(ctx context.Context, job T) error { return f(ctx, job) }

// Source defines how workers receive jobs.
type Source[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Worker processes jobs until its source is drained or it is stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in hand, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker[T any] struct {
	source  Source[T]
	handler Handler[T]
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker[T any](source Source[T], handler Handler[T], opts ...Option) *InMemoryWorker[T] {
	cfg := options{name: "worker"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named(cfg.name)
	}

	return &InMemoryWorker[T]{
		source:   source,
		handler:  handler,
		name:     cfg.name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.logger,
	}
}

// Run starts the worker loop.
func (w *InMemoryWorker[T]) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, job); err != nil {
				w.logger.Error(ctx, "job failed", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker[T]) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker[T]) Done() <-chan struct{} {
	return w.done
}

func (w *InMemoryWorker[T]) process(ctx context.Context, job T) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.handler.Handle(ctx, job); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "job_failed")
		return fmt.Errorf("%s: %w", w.name, err)
	}
	return nil
}

// Pool feeds a queue and runs a fixed set of workers against it.
type Pool[T any] struct {
	workers []*InMemoryWorker[T]
	queue   queue.Queue[T]
	logger  logger.Logger
}

// NewPool creates a new worker pool reading from q.
func NewPool[T any](workerCount int, q queue.Queue[T], handler Handler[T], opts ...Option) *Pool[T] {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	cfg := options{name: "worker-pool"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named(cfg.name)
	}

	p := &Pool[T]{
		workers: make([]*InMemoryWorker[T], workerCount),
		queue:   q,
		logger:  cfg.logger,
	}
	for i := range workerCount {
		p.workers[i] = NewInMemoryWorker(q, handler,
			WithName(cfg.name+"-"+strconv.Itoa(i)),
			WithLogger(cfg.logger.Named(strconv.Itoa(i))),
		)
	}

	metrics.UpdateWorkerActiveCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool[T]) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Submit queues a job, waiting for room until ctx is done.
func (p *Pool[T]) Submit(ctx context.Context, job T) error {
	return p.queue.Put(ctx, job)
}

// TrySubmit queues a job only if there is room right now. It returns
// queue.ErrFull or queue.ErrClosed when the job was not queued.
func (p *Pool[T]) TrySubmit(ctx context.Context, job T) error {
	if p.queue.Enqueue(ctx, job) {
		return nil
	}
	if p.queue.IsClosed() {
		return queue.ErrClosed
	}
	return queue.ErrFull
}

// Shutdown closes the queue and waits for workers to drain it. Jobs
// already queued run to completion.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	if timedOut {
		return fmt.Errorf("pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
