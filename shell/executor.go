package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/frame"
	"github.com/dmora/rootshell/internal/errfmt"
	"github.com/dmora/rootshell/session"
)

// Executor runs batches on a supervisor's session, one batch at a time.
// Waiters are served in arrival order.
type Executor struct {
	sv     *Supervisor
	opts   Options
	logger *slog.Logger
}

func newExecutor(sv *Supervisor, opts Options) *Executor {
	return &Executor{
		sv:     sv,
		opts:   opts,
		logger: opts.Logger.With("component", "executor"),
	}
}

// Execute runs batch and returns the result of the attempt that ended it:
// the first whose exit code is a success (or admitted by the validator),
// otherwise the last one.
//
// The session lock is held for the whole batch. Waiting for it is bounded
// by ExecOptions.LockTimeout and ctx; reading each reply is bounded by
// ExecOptions.ReadTimeout only, since abandoning a read half way would
// leave the stream unframed. A read timeout or protocol failure kills the
// session and no partial result is returned.
func (e *Executor) Execute(ctx context.Context, batch rootshell.Batch, opts ...rootshell.ExecOption) (rootshell.Result, error) {
	res, err := e.execute(ctx, batch, opts)
	if err != nil {
		return rootshell.Result{}, err
	}
	e.sv.listeners.commandResult(res)
	return res, nil
}

func (e *Executor) execute(ctx context.Context, batch rootshell.Batch, opts []rootshell.ExecOption) (rootshell.Result, error) {
	if err := batch.Validate(); err != nil {
		return rootshell.Result{}, err
	}
	batch = batch.Clone()
	o := e.opts.execOptions(opts)

	if err := e.sv.Pin(); err != nil {
		return rootshell.Result{}, err
	}
	defer e.sv.Unpin()

	if err := e.lock(ctx, o.LockTimeout); err != nil {
		return rootshell.Result{}, err
	}
	defer e.sv.execLock.Release(1)

	sess, err := e.sv.acquire(ctx)
	if err != nil {
		return rootshell.Result{}, err
	}

	start := time.Now()
	res, err := e.run(ctx, sess, batch, o)
	if diedBeforeBatch(err) {
		// The shell was gone before the first attempt reached it; its
		// death just had not been observed yet. Reconnect once and rerun.
		e.logger.Info("shell died before batch, reconnecting", "pid", sess.Pid())
		e.sv.invalidate(sess, err)
		if sess, err = e.sv.acquire(ctx); err != nil {
			return rootshell.Result{}, err
		}
		start = time.Now()
		res, err = e.run(ctx, sess, batch, o)
	}
	if err != nil {
		// Encoding failures happen before anything is written.
		if !errors.Is(err, rootshell.ErrInvalidAttempt) {
			e.sv.invalidate(sess, err)
		}
		return rootshell.Result{}, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func diedBeforeBatch(err error) bool {
	idx, ok := rootshell.FailedAttempt(err)
	return ok && idx == 0 && errors.Is(err, frame.ErrNoReply)
}

func (e *Executor) lock(ctx context.Context, timeout time.Duration) error {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := e.sv.execLock.Acquire(lockCtx, 1); err != nil {
		return fmt.Errorf("%w: waiting for session lock: %w", rootshell.ErrTimeout, err)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, sess *session.Session, batch rootshell.Batch, o rootshell.ExecOptions) (rootshell.Result, error) {
	// Reads must not be cut short by the caller; only ReadTimeout applies.
	readBase := context.WithoutCancel(ctx)
	codes := o.SuccessCodes

	for i, attempt := range batch {
		sess.Drain()
		lines, code, err := e.exchange(readBase, sess, attempt, o.ReadTimeout)
		if err != nil {
			return rootshell.Result{}, &rootshell.BatchError{Attempt: i, Err: err}
		}

		res := rootshell.Result{Lines: lines, ExitCode: code, SuccessCodes: codes, Attempt: i}
		if codes.Contains(code) {
			return res, nil
		}
		if o.Validator != nil && o.Validator(attempt, code, lines) {
			res.SuccessCodes = codes.With(code)
			return res, nil
		}
		if i == len(batch)-1 {
			return res, nil
		}
		e.logger.Debug("attempt failed, trying next",
			"attempt", i, "code", code, "command", errfmt.Quote(attempt[len(attempt)-1]))
	}
	// Unreachable: Validate rejects empty batches.
	return rootshell.Result{}, fmt.Errorf("%w: no attempts", rootshell.ErrInvalidAttempt)
}

func (e *Executor) exchange(ctx context.Context, sess *session.Session, attempt rootshell.Attempt, timeout time.Duration) ([]string, int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return sess.Exchange(ctx, attempt)
}
