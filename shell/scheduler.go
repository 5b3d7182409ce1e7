package shell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dmora/rootshell"
	"github.com/google/uuid"
)

// Callback receives the outcome of an asynchronous batch. It runs on the
// scheduler's worker goroutine; a slow callback delays later jobs.
type Callback func(res rootshell.Result, err error)

type job struct {
	id    string
	ctx   context.Context
	batch rootshell.Batch
	opts  []rootshell.ExecOption
	cb    Callback
}

// Scheduler runs batches on a single worker in submission order.
type Scheduler struct {
	exec   *Executor
	logger *slog.Logger

	queue    chan job
	mu       sync.RWMutex // guards closed against sends on queue
	closed   bool
	stopping atomic.Bool
	done     chan struct{}
}

// newScheduler starts the worker and returns once it is running.
func newScheduler(exec *Executor, size int, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		exec:   exec,
		logger: logger.With("component", "scheduler"),
		queue:  make(chan job, size),
		done:   make(chan struct{}),
	}
	ready := make(chan struct{})
	go s.run(ready)
	<-ready
	return s
}

// Submit queues batch and returns its job ID once accepted. It blocks
// while the queue is full, until ctx is done. Jobs start in the order
// Submit returned.
func (s *Scheduler) Submit(ctx context.Context, batch rootshell.Batch, cb Callback, opts ...rootshell.ExecOption) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", err
	}
	j := job{
		id:    uuid.NewString(),
		ctx:   ctx,
		batch: batch.Clone(),
		opts:  append([]rootshell.ExecOption(nil), opts...),
		cb:    cb,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", rootshell.ErrClosed
	}
	select {
	case s.queue <- j:
		s.logger.Debug("job queued", "job", j.id, "attempts", len(j.batch))
		return j.id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("shell: submit: %w", ctx.Err())
	}
}

// Close stops accepting jobs, fails the ones still queued with
// rootshell.ErrClosed, and waits for the worker to exit. A job already
// running completes normally.
func (s *Scheduler) Close() {
	s.stopping.Store(true)
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Scheduler) run(ready chan<- struct{}) {
	defer close(s.done)
	close(ready)
	for j := range s.queue {
		if s.stopping.Load() {
			s.deliver(j, rootshell.Result{}, rootshell.ErrClosed)
			continue
		}
		res, err := s.exec.Execute(j.ctx, j.batch, j.opts...)
		if err != nil {
			s.logger.Debug("job failed", "job", j.id, "error", err)
		}
		s.deliver(j, res, err)
	}
}

func (s *Scheduler) deliver(j job, res rootshell.Result, err error) {
	if j.cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked", "job", j.id, "panic", fmt.Sprint(r))
		}
	}()
	j.cb(res, err)
}
