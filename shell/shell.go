package shell

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/session"
)

// core is the state shared by an owner handle and its clones.
type core struct {
	id   Identity
	opts Options
	sv   *Supervisor
	exec *Executor

	mu     sync.Mutex
	sched  *Scheduler
	closed bool

	cmdMu    sync.Mutex
	cmdCache map[string]string

	unregister func()
}

func newCore(ctx context.Context, id Identity, spawner session.Spawner, opts Options) (*core, error) {
	sv := newSupervisor(spawner, id.Root, opts)
	if err := sv.Connect(ctx); err != nil {
		_ = sv.ForceDestroy(context.Background())
		return nil, err
	}
	return &core{
		id:         id,
		opts:       opts,
		sv:         sv,
		exec:       newExecutor(sv, opts),
		cmdCache:   make(map[string]string),
		unregister: func() {},
	}, nil
}

func (c *core) scheduler() (*Scheduler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, rootshell.ErrClosed
	}
	if c.sched == nil {
		c.sched = newScheduler(c.exec, c.opts.QueueSize, c.opts.Logger)
	}
	return c.sched, nil
}

func (c *core) close(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sched := c.sched
	c.mu.Unlock()

	if sched != nil {
		sched.Close()
	}
	c.unregister()
	if force {
		return c.sv.ForceDestroy(ctx)
	}
	return c.sv.Destroy(ctx)
}

// Shell is a handle to a shared persistent shell. The owner handle tears
// the shell down on Close; clone handles only stop using it.
type Shell struct {
	c      *core
	owner  bool
	closed atomic.Bool
}

// New spawns and connects an unregistered shell and returns its owner
// handle. root selects `su` over `sh`.
func New(ctx context.Context, spawner session.Spawner, root bool, opts ...Option) (*Shell, error) {
	c, err := newCore(ctx, Identity{Root: root}, spawner, resolveOptions(opts...))
	if err != nil {
		return nil, err
	}
	return &Shell{c: c, owner: true}, nil
}

// Execute runs batch synchronously. See Executor.Execute.
func (sh *Shell) Execute(ctx context.Context, batch rootshell.Batch, opts ...rootshell.ExecOption) (rootshell.Result, error) {
	if sh.closed.Load() {
		return rootshell.Result{}, rootshell.ErrClosed
	}
	return sh.c.exec.Execute(ctx, batch, opts...)
}

// Run executes a single command line as a one-attempt batch.
func (sh *Shell) Run(ctx context.Context, command string, opts ...rootshell.ExecOption) (rootshell.Result, error) {
	return sh.Execute(ctx, rootshell.Commands(command), opts...)
}

// ExecuteAsync queues batch on the shell's scheduler and returns the job
// ID. cb receives the outcome on the scheduler goroutine.
func (sh *Shell) ExecuteAsync(ctx context.Context, batch rootshell.Batch, cb Callback, opts ...rootshell.ExecOption) (string, error) {
	if sh.closed.Load() {
		return "", rootshell.ErrClosed
	}
	s, err := sh.c.scheduler()
	if err != nil {
		return "", err
	}
	return s.Submit(ctx, batch, cb, opts...)
}

// Attempts expands command over the configured binary prefixes.
func (sh *Shell) Attempts(command string) rootshell.Batch {
	return rootshell.Expand(command, sh.c.opts.Binaries)
}

// Identity returns the registry key of the shell. Unregistered shells
// have an empty name.
func (sh *Shell) Identity() Identity { return sh.c.id }

// IsRoot reports whether a root-confirmed session is connected.
func (sh *Shell) IsRoot() bool { return sh.c.sv.IsRoot() }

// IsOwner reports whether Close tears the shell down.
func (sh *Shell) IsOwner() bool { return sh.owner }

// State returns the connection state.
func (sh *Shell) State() State { return sh.c.sv.State() }

// Pin keeps the shell alive across an owner's Close until Unpin.
func (sh *Shell) Pin() error { return sh.c.sv.Pin() }

// Unpin releases a Pin.
func (sh *Shell) Unpin() { sh.c.sv.Unpin() }

// AddListener registers l and returns a function that removes it.
func (sh *Shell) AddListener(l rootshell.Listener) (remove func()) {
	return sh.c.sv.listeners.add(l)
}

// Info describes the current session.
type Info struct {
	Pid       int
	Root      bool
	ProbeLine string
	State     State
}

// Info returns details about the connected session. Pid is 0 while
// disconnected.
func (sh *Shell) Info() Info {
	info := Info{Root: sh.c.id.Root, State: sh.c.sv.State()}
	if s := sh.c.sv.current(); s != nil {
		info.Pid = s.Pid()
		info.ProbeLine = s.ProbeLine()
	}
	return info
}

// Close releases the handle. For the owner it also stops the scheduler,
// removes the shell from its registry and destroys the session; the
// destroy is deferred while pinned. Closing a clone leaves the shell
// running. Close is idempotent.
func (sh *Shell) Close(ctx context.Context) error {
	if !sh.closed.CompareAndSwap(false, true) || !sh.owner {
		return nil
	}
	return sh.c.close(ctx, false)
}

// ForceClose is Close for the owner, ignoring pins and killing the
// session without a graceful exit. On a clone it behaves like Close.
func (sh *Shell) ForceClose(ctx context.Context) error {
	if !sh.closed.CompareAndSwap(false, true) || !sh.owner {
		return nil
	}
	return sh.c.close(ctx, true)
}
