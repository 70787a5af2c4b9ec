// Package jobs runs submitted pipeline runs on a fixed pool of workers.
//
// The Runner owns a bounded priority queue. Runs submitted through the API
// go ahead of runs re-queued by crash recovery. The persisted run record is
// the only state shared between workers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/qforge/internal/pipeline"
	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/types"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 100
)

// ErrStopped is returned when submitting to a stopped runner.
var ErrStopped = errors.New("runner stopped")

// Executor drives a submitted run to a terminal status.
type Executor interface {
	Execute(ctx context.Context, runID string, in types.Input) (*pipeline.Result, error)
}

// Job is a queued run.
type Job struct {
	RunID    string
	Input    types.Input
	Priority int
	QueuedAt time.Time
}

// Config configures a Runner.
type Config struct {
	Executor  Executor
	Store     store.RunStore
	Logger    *slog.Logger
	Workers   int
	QueueSize int
}

// Runner executes queued runs concurrently.
type Runner struct {
	exec    Executor
	store   store.RunStore
	logger  *slog.Logger
	workers int
	queue   *PriorityQueue

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	active  map[string]time.Time

	completed atomic.Int64
	failed    atomic.Int64
}

// NewRunner creates a Runner. Call Start to launch its workers.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Executor == nil {
		return nil, errors.New("jobs: executor is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("jobs: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		exec:    cfg.Executor,
		store:   cfg.Store,
		logger:  cfg.Logger,
		workers: cfg.Workers,
		queue:   NewPriorityQueue(cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		active:  make(map[string]time.Time),
	}, nil
}

// Start launches the workers. It is a no-op after the first call.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	for i := range r.workers {
		r.wg.Add(1)
		go r.work(i)
	}
	r.logger.Info("runner started", "workers", r.workers, "queue_size", r.queue.capacity)
}

// Submit queues a run at normal priority.
func (r *Runner) Submit(runID string, in types.Input) error {
	return r.enqueue(&Job{RunID: runID, Input: in, Priority: PriorityNormal})
}

func (r *Runner) enqueue(job *Job) error {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	job.QueuedAt = time.Now()
	if err := r.queue.Push(job); err != nil {
		return fmt.Errorf("queue run %s: %w", job.RunID, err)
	}
	r.logger.Debug("run queued", "run_id", job.RunID, "priority", job.Priority, "depth", r.queue.Len())
	return nil
}

// Stop stops accepting work and waits for queued and in-flight runs. If ctx
// ends first, in-flight runs are cancelled and the queue is abandoned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	if !started {
		r.cancel()
		return nil
	}

	drained := make(chan struct{})
	close(r.done)
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		r.cancel()
		r.logger.Info("runner stopped")
		return nil
	case <-ctx.Done():
		r.cancel()
		<-drained
		r.logger.Warn("runner stopped before draining", "abandoned", r.queue.Len())
		return fmt.Errorf("stop runner: %w", ctx.Err())
	}
}

func (r *Runner) work(id int) {
	defer r.wg.Done()
	logger := r.logger.With("worker", id)

	for {
		job := r.queue.Pop(r.done)
		if job == nil {
			return
		}
		if r.ctx.Err() != nil {
			return
		}
		r.run(logger, job)
	}
}

func (r *Runner) run(logger *slog.Logger, job *Job) {
	r.mu.Lock()
	r.active[job.RunID] = time.Now()
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, job.RunID)
		r.mu.Unlock()
	}()

	logger.Debug("run started", "run_id", job.RunID, "waited", time.Since(job.QueuedAt))
	res, err := r.exec.Execute(r.ctx, job.RunID, job.Input)
	if err != nil {
		r.failed.Add(1)
		status := types.RunStatus("")
		if res != nil && res.Run != nil {
			status = res.Run.Status
		}
		logger.Warn("run did not complete", "run_id", job.RunID, "status", status, "error", err)
		return
	}
	r.completed.Add(1)
}

// Status is a point-in-time snapshot of the runner.
type Status struct {
	Workers   int        `json:"workers"`
	Queue     QueueStats `json:"queue"`
	Active    []string   `json:"active"`
	Completed int64      `json:"completed"`
	Failed    int64      `json:"failed"`
	Stopped   bool       `json:"stopped"`
}

// Status returns the current runner state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	active := make([]string, 0, len(r.active))
	for id := range r.active {
		active = append(active, id)
	}
	stopped := r.stopped
	r.mu.Unlock()

	return Status{
		Workers:   r.workers,
		Queue:     r.queue.Stats(),
		Active:    active,
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Stopped:   stopped,
	}
}
