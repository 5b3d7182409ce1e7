package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/frame"
	"github.com/dmora/rootshell/session"
	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"
)

const (
	// idleReconnectTimeout bounds the reconnect a watcher performs when a
	// session dies with nobody using it.
	idleReconnectTimeout = 30 * time.Second

	connectLockRetry = 50 * time.Millisecond
)

// Supervisor owns at most one live session and replaces it when it dies.
// It never reconnects more than once per detected death.
type Supervisor struct {
	spawner   session.Spawner
	root      bool
	opts      Options
	logger    *slog.Logger
	listeners *listenerSet

	// execLock is held by the Executor for a whole batch. The supervisor
	// only tries it, to learn whether the session is idle.
	execLock *semaphore.Weighted

	spawnMu sync.Mutex // serializes spawns within this process

	mu             sync.Mutex
	sess           *session.Session
	state          State
	pins           int
	pendingDestroy bool
	closed         bool
	stop           chan struct{} // closed by teardown; stops watchers

	watchers sync.WaitGroup
}

func newSupervisor(spawner session.Spawner, root bool, opts Options) *Supervisor {
	logger := opts.Logger.With("component", "supervisor", "root", root)
	return &Supervisor{
		spawner:   spawner,
		root:      root,
		opts:      opts,
		logger:    logger,
		listeners: newListenerSet(logger, opts.Listeners),
		execLock:  semaphore.NewWeighted(1),
		stop:      make(chan struct{}),
	}
}

// Connect ensures a live session, spawning up to ConnectRetries times.
// It is a no-op when a live session already exists.
func (sv *Supervisor) Connect(ctx context.Context) error {
	_, _, err := sv.ensure(ctx, sv.opts.ConnectRetries)
	return err
}

// State returns the connection state.
func (sv *Supervisor) State() State {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.state
}

// IsRoot reports whether a root-confirmed session is connected.
func (sv *Supervisor) IsRoot() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.root && sv.state == Connected
}

// Closed reports whether the supervisor has been torn down.
func (sv *Supervisor) Closed() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.closed
}

// Pins returns the current pin count.
func (sv *Supervisor) Pins() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.pins
}

// current returns the installed session, alive or not.
func (sv *Supervisor) current() *session.Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.sess
}

// Pin keeps the supervisor from being destroyed until the matching Unpin.
func (sv *Supervisor) Pin() error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.closed {
		return rootshell.ErrClosed
	}
	sv.pins++
	return nil
}

// Unpin releases a pin. Releasing the last pin runs a deferred Destroy.
func (sv *Supervisor) Unpin() {
	sv.mu.Lock()
	if sv.pins > 0 {
		sv.pins--
	}
	run := sv.pins == 0 && sv.pendingDestroy && !sv.closed
	sv.mu.Unlock()
	if run {
		sv.logger.Debug("running deferred destroy")
		_ = sv.teardown(context.Background(), true)
	}
}

// Destroy tears the session down gracefully. While pinned, the teardown
// is deferred to the last Unpin and Destroy returns nil immediately.
func (sv *Supervisor) Destroy(ctx context.Context) error {
	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return nil
	}
	if sv.pins > 0 {
		sv.pendingDestroy = true
		pins := sv.pins
		sv.mu.Unlock()
		sv.logger.Debug("destroy deferred", "pins", pins)
		return nil
	}
	sv.mu.Unlock()
	return sv.teardown(ctx, true)
}

// ForceDestroy tears the session down regardless of pins. A batch in
// flight fails with a protocol error or ErrClosed.
func (sv *Supervisor) ForceDestroy(ctx context.Context) error {
	sv.mu.Lock()
	sv.pins = 0
	sv.mu.Unlock()
	return sv.teardown(ctx, false)
}

func (sv *Supervisor) teardown(ctx context.Context, graceful bool) error {
	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return nil
	}
	sv.closed = true
	sv.pendingDestroy = false
	s := sv.sess
	sv.sess = nil
	sv.state = Disconnected
	close(sv.stop)
	sv.mu.Unlock()

	var err error
	if s != nil {
		idle := sv.execLock.TryAcquire(1)
		err = s.Destroy(ctx, graceful && idle)
		if idle {
			sv.execLock.Release(1)
		}
	}
	sv.watchers.Wait()
	if s != nil {
		sv.logger.Debug("session destroyed", "pid", s.Pid(), "graceful", graceful)
		sv.listeners.disconnected(nil)
	}
	return err
}

// acquire returns the live session for an Executor that holds execLock.
// A dead session is replaced by a single reconnect attempt.
func (sv *Supervisor) acquire(ctx context.Context) (*session.Session, error) {
	sv.mu.Lock()
	closed, s := sv.closed, sv.sess
	sv.mu.Unlock()
	if closed {
		return nil, rootshell.ErrClosed
	}
	if s != nil && s.IsAlive() {
		return s, nil
	}

	s, lost, err := sv.ensure(ctx, 1)
	if err != nil {
		if errors.Is(err, rootshell.ErrClosed) {
			return nil, err
		}
		if lost {
			sv.listeners.disconnected(err)
		}
		return nil, fmt.Errorf("%w: %w", rootshell.ErrConnectionLost, err)
	}
	return s, nil
}

// invalidate drops s after a protocol failure and notifies listeners.
func (sv *Supervisor) invalidate(s *session.Session, cause error) {
	sv.mu.Lock()
	current := sv.sess == s
	if current {
		sv.sess = nil
		sv.state = Disconnected
	}
	sv.mu.Unlock()

	_ = s.Destroy(context.Background(), false)
	if current {
		sv.logger.Warn("session invalidated", "pid", s.Pid(), "error", cause)
		sv.listeners.disconnected(cause)
	}
}

// ensure returns the live session, spawning up to tries times when there
// is none. lost reports whether a dead session was discarded on the way.
func (sv *Supervisor) ensure(ctx context.Context, tries int) (s *session.Session, lost bool, err error) {
	sv.spawnMu.Lock()
	defer sv.spawnMu.Unlock()

	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return nil, false, rootshell.ErrClosed
	}
	if cur := sv.sess; cur != nil && cur.IsAlive() {
		sv.mu.Unlock()
		return cur, false, nil
	}
	stale := sv.sess
	sv.sess = nil
	sv.state = Connecting
	sv.mu.Unlock()

	if stale != nil {
		lost = true
		_ = stale.Destroy(context.Background(), false)
	}

	var lastErr error
	for attempt := 1; attempt <= max(tries, 1); attempt++ {
		fresh, spawnErr := sv.spawnOnce(ctx)
		if spawnErr == nil {
			sv.mu.Lock()
			if sv.closed {
				sv.mu.Unlock()
				_ = fresh.Destroy(context.Background(), false)
				return nil, lost, rootshell.ErrClosed
			}
			sv.sess = fresh
			sv.state = Connected
			sv.watchers.Add(1) // under mu so teardown's Wait cannot miss it
			sv.mu.Unlock()

			go sv.watch(fresh)
			sv.logger.Info("shell connected", "pid", fresh.Pid(), "attempt", attempt)
			sv.listeners.connected()
			return fresh, lost, nil
		}
		lastErr = spawnErr
		sv.logger.Warn("connect attempt failed", "attempt", attempt, "of", tries, "error", spawnErr)
		if ctx.Err() != nil {
			break
		}
	}

	sv.mu.Lock()
	sv.state = Disconnected
	sv.mu.Unlock()
	return nil, lost, lastErr
}

func (sv *Supervisor) spawnOnce(ctx context.Context) (*session.Session, error) {
	unlock, err := sv.lockConnect(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	opts := make([]session.Option, 0, len(sv.opts.Session)+2)
	opts = append(opts, session.WithLogger(sv.opts.Logger))
	opts = append(opts, sv.opts.Session...)
	if sv.opts.UniqueSentinel {
		opts = append(opts, session.WithSentinel(frame.NewSentinel()))
	}
	return session.Connect(ctx, sv.spawner, sv.root, opts...)
}

// lockConnect holds the cross-process connect lock, if configured.
func (sv *Supervisor) lockConnect(ctx context.Context) (func(), error) {
	path := sv.opts.ConnectLock
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: connect lock dir: %w", rootshell.ErrSpawn, err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, connectLockRetry)
	if err != nil {
		return nil, fmt.Errorf("%w: connect lock %s: %w", rootshell.ErrSpawn, path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: connect lock %s not acquired", rootshell.ErrSpawn, path)
	}
	return func() { _ = fl.Unlock() }, nil
}

// watch reconnects once if s dies while no batch is running on it.
func (sv *Supervisor) watch(s *session.Session) {
	defer sv.watchers.Done()
	select {
	case <-s.Done():
	case <-sv.stop:
		return
	}
	sv.recoverIdle(s)
}

func (sv *Supervisor) recoverIdle(dead *session.Session) {
	// A running batch sees the failure itself and invalidates.
	if !sv.execLock.TryAcquire(1) {
		return
	}
	defer sv.execLock.Release(1)

	sv.mu.Lock()
	stale := sv.sess == dead && !sv.closed
	sv.mu.Unlock()
	if !stale {
		return
	}

	sv.logger.Warn("session died while idle, reconnecting", "pid", dead.Pid())
	ctx, cancel := context.WithTimeout(context.Background(), idleReconnectTimeout)
	defer cancel()
	if _, _, err := sv.ensure(ctx, 1); err != nil && !errors.Is(err, rootshell.ErrClosed) {
		sv.logger.Warn("idle reconnect failed", "error", err)
		sv.listeners.disconnected(err)
	}
}
