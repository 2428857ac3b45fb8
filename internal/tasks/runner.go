package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/medicare-plus/internal/observability/metrics"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

var (
	// ErrQueueFull is returned by Submit when the buffer is exhausted.
	ErrQueueFull = errors.New("tasks: queue full")

	// ErrStopped is returned by Submit after Shutdown.
	ErrStopped = errors.New("tasks: runner stopped")
)

// ErrorSink receives failures of background tasks.
type ErrorSink interface {
	Report(ctx context.Context, task string, err error)
}

// LogSink logs failures.
type LogSink struct {
	Logger *logging.Logger
}

func (s LogSink) Report(ctx context.Context, task string, err error) {
	logger := s.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Error("background task failed", "task", task, "error", err)
}

type job struct {
	name string
	fn   func(context.Context) error
}

// Runner executes fire-and-forget side effects on a fixed worker pool fed by a
// bounded queue, so request handlers never wait on email, pushes or chat writes.
type Runner struct {
	queue   chan job
	workers int
	timeout time.Duration
	sink    ErrorSink
	logger  *logging.Logger
	metrics *metrics.TaskMetrics

	mu      sync.RWMutex
	stopped bool
	started bool
	wg      sync.WaitGroup
}

// Config sizes the runner.
type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds each task; zero means 30s.
	Timeout time.Duration
	Sink    ErrorSink
	Logger  *logging.Logger
	Metrics *metrics.TaskMetrics
}

func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	logger := cfg.Logger.Component("tasks")
	if cfg.Sink == nil {
		cfg.Sink = LogSink{Logger: logger}
	}
	return &Runner{
		queue:   make(chan job, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		sink:    cfg.Sink,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Start launches the workers. Tasks run detached from ctx so request
// cancellation never aborts a queued side effect; Shutdown stops them.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	base := context.WithoutCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(base)
	}
	r.logger.Info("task runner started", "workers", r.workers, "queue_size", cap(r.queue))
}

// Submit enqueues fn without blocking.
func (r *Runner) Submit(name string, fn func(context.Context) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrStopped
	}
	select {
	case r.queue <- job{name: name, fn: fn}:
		return nil
	default:
		r.metrics.ObserveTask(name, "rejected", 0)
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.queue)
	}
	started := r.started
	r.mu.Unlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks: shutdown: %w", ctx.Err())
	}
}

func (r *Runner) work(base context.Context) {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(base, j)
	}
}

func (r *Runner) run(base context.Context, j job) {
	ctx, cancel := context.WithTimeout(base, r.timeout)
	defer cancel()
	started := time.Now()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return j.fn(ctx)
	}()

	elapsed := time.Since(started).Seconds()
	if err != nil {
		r.metrics.ObserveTask(j.name, "failed", elapsed)
		r.sink.Report(ctx, j.name, err)
		return
	}
	r.metrics.ObserveTask(j.name, "ok", elapsed)
}
