package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/frame"
)

// Session is one live shell process. Its methods are safe for concurrent
// use, but interleaved exchanges from different goroutines corrupt the
// framing; see the package doc.
type Session struct {
	proc   Process
	root   bool
	opts   Options
	framer *frame.Framer
	logger *slog.Logger

	lines   chan string
	eof     chan struct{} // closed when readLoop exits
	readErr error         // set before eof closes

	quit chan struct{} // closed by Destroy to unblock readLoop
	dead chan struct{} // closed once the process or stream is gone

	writeMu     sync.Mutex
	destroyed   atomic.Bool
	destroyOnce sync.Once
	deadOnce    sync.Once
	destroyErr  error

	probeLine string
}

var _ frame.Conn = (*Session)(nil)

// Connect spawns a shell through spawner and returns a probed session.
// Any failure is reported as rootshell.ErrSpawn and the process, if it
// started, is killed.
func Connect(ctx context.Context, spawner Spawner, root bool, opts ...Option) (*Session, error) {
	o := resolveOptions(opts...)
	proc, err := spawner.Spawn(ctx, root)
	if err != nil {
		if errors.Is(err, rootshell.ErrSpawn) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", rootshell.ErrSpawn, err)
	}
	s := newSession(proc, root, o)
	if !o.Probe {
		return s, nil
	}
	if err := s.probe(ctx); err != nil {
		_ = s.Destroy(context.Background(), false)
		return nil, fmt.Errorf("%w: probe: %w", rootshell.ErrSpawn, err)
	}
	s.logger.Debug("session connected", "pid", proc.Pid(), "root", root)
	return s, nil
}

func newSession(proc Process, root bool, o Options) *Session {
	s := &Session{
		proc:   proc,
		root:   root,
		opts:   o,
		framer: frame.New(o.Sentinel),
		logger: o.Logger.With("component", "session", "pid", proc.Pid()),
		lines:  make(chan string, o.LineBuffer),
		eof:    make(chan struct{}),
		quit:   make(chan struct{}),
		dead:   make(chan struct{}),
	}
	go s.readLoop(proc.Stdout())
	go s.watch()
	return s
}

// readLoop turns stdout into lines until EOF, a scanner error or Destroy.
func (s *Session) readLoop(stdout io.Reader) {
	defer close(s.eof)
	defer close(s.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, min(4096, s.opts.ScannerBuffer)), s.opts.ScannerBuffer)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.quit:
			s.readErr = rootshell.ErrClosed
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-s.quit:
			s.readErr = rootshell.ErrClosed
			return
		default:
		}
		s.readErr = fmt.Errorf("%w: scanner: %w", rootshell.ErrProtocolDesync, err)
		s.logger.Warn("stdout scanner failed", "error", err)
		return
	}
	s.readErr = io.EOF
}

func (s *Session) watch() {
	select {
	case <-s.proc.Done():
	case <-s.eof:
	}
	s.markDead()
}

func (s *Session) markDead() {
	s.deadOnce.Do(func() { close(s.dead) })
}

// Root reports whether the session was spawned in root mode.
func (s *Session) Root() bool { return s.root }

// Pid returns the process ID of the shell.
func (s *Session) Pid() int { return s.proc.Pid() }

// Framer returns the framer bound to this session's sentinel.
func (s *Session) Framer() *frame.Framer { return s.framer }

// ProbeLine returns the output line that confirmed the probe, such as the
// `id` line of a root shell. Empty if probing was disabled.
func (s *Session) ProbeLine() string { return s.probeLine }

// Done is closed once the process exits, its output ends, or the session
// is destroyed.
func (s *Session) Done() <-chan struct{} { return s.dead }

// IsAlive reports whether the session can still be used. It never blocks.
func (s *Session) IsAlive() bool {
	if s.destroyed.Load() {
		return false
	}
	select {
	case <-s.dead:
		return false
	default:
		return true
	}
}

// Write sends raw bytes to the shell's stdin.
func (s *Session) Write(p []byte) error {
	if s.destroyed.Load() {
		return rootshell.ErrClosed
	}
	return s.write(p)
}

func (s *Session) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.proc.Stdin().Write(p); err != nil {
		// Nothing reached the shell, so nothing of the attempt ran.
		return fmt.Errorf("%w: %w: write stdin: %w", rootshell.ErrProtocolDesync, frame.ErrNoReply, err)
	}
	return nil
}

// ReadLine returns the next output line. After the stream ends it returns
// io.EOF (or the scanner's error) once buffered lines are drained.
func (s *Session) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", s.readErr
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Drain discards lines already buffered, returning how many were dropped.
// Output that arrives between exchanges (background jobs) would otherwise
// be attributed to the next command.
func (s *Session) Drain() int {
	n := 0
	for {
		select {
		case _, ok := <-s.lines:
			if !ok {
				return n
			}
			n++
		default:
			if n > 0 {
				s.logger.Debug("discarded stray output", "lines", n)
			}
			return n
		}
	}
}

// Exchange runs one attempt through the session's framer.
func (s *Session) Exchange(ctx context.Context, attempt rootshell.Attempt) ([]string, int, error) {
	return s.framer.Exchange(ctx, s, attempt)
}

// Destroy terminates the shell. A graceful destroy asks the shell to
// exit and waits GracePeriod before SIGTERM; otherwise SIGKILL is sent
// right away. Streams are closed and the process reaped exactly once;
// later calls return the first result.
func (s *Session) Destroy(ctx context.Context, graceful bool) error {
	s.destroyOnce.Do(func() {
		s.destroyed.Store(true)
		s.destroyErr = s.shutdown(ctx, graceful)
		close(s.quit)
		_ = s.proc.Stdout().Close()
		s.markDead()
	})
	return s.destroyErr
}

func (s *Session) shutdown(ctx context.Context, graceful bool) error {
	done := s.proc.Done()
	select {
	case <-done:
		return nil
	default:
	}

	if graceful {
		_ = s.write([]byte("exit 0\n"))
		_ = s.proc.Stdin().Close()
		select {
		case <-done:
			return nil
		case <-time.After(s.opts.GracePeriod):
		case <-ctx.Done():
		}
		_ = s.proc.Signal(syscall.SIGTERM)
		select {
		case <-done:
			return nil
		case <-time.After(s.opts.GracePeriod):
		case <-ctx.Done():
		}
	} else {
		_ = s.proc.Stdin().Close()
	}

	if err := s.proc.Signal(os.Kill); err != nil {
		// A setuid su cannot be signalled by an unprivileged parent.
		s.logger.Warn("kill failed", "error", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("session: pid %d did not exit after SIGKILL", s.proc.Pid())
	}
}
