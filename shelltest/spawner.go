package shelltest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/dmora/rootshell/session"
)

// Action tells the fake process what to do after a command.
type Action int

const (
	// Continue keeps interpreting input.
	Continue Action = iota

	// Hang stops producing output. Input is still consumed so writers
	// never block; only a signal ends the process.
	Hang

	// Crash closes the output stream and exits.
	Crash
)

// Reply is the fake shell's answer to one command line.
type Reply struct {
	// Output is written verbatim; include the trailing newline if the
	// simulated command prints one.
	Output string
	Code   int
	Action Action
}

// Handler answers a command line. Returning false falls back to the
// built-in commands.
type Handler func(root bool, line string) (Reply, bool)

// ErrSpawnRefused is returned for spawns consumed by Spawner.FailSpawns.
var ErrSpawnRefused = errors.New("shelltest: spawn refused")

// Spawner starts fake shell processes.
type Spawner struct {
	// Handler answers non-builtin commands. Nil uses the builtins only.
	Handler Handler

	// FailSpawns makes the first N Spawn calls fail.
	FailSpawns int

	// DenyRoot makes root spawns behave like su refusing: the process
	// prints an error and exits.
	DenyRoot bool

	mu     sync.Mutex
	spawns int
	refuse bool
	procs  []*Process
}

var _ session.Spawner = (*Spawner)(nil)

var nextPid atomic.Int64

func init() { nextPid.Store(1000) }

// Spawn starts a fake process.
func (s *Spawner) Spawn(ctx context.Context, root bool) (session.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.spawns++
	if s.spawns <= s.FailSpawns || s.refuse {
		s.mu.Unlock()
		return nil, ErrSpawnRefused
	}
	p := newProcess(root, s.Handler)
	s.procs = append(s.procs, p)
	deny := root && s.DenyRoot
	s.mu.Unlock()

	if deny {
		go func() {
			_, _ = io.WriteString(p.stdoutW, "su: permission denied\n")
			p.exit(errors.New("exit status 1"))
		}()
		return p, nil
	}
	go p.interpret()
	return p, nil
}

// Refuse makes every later Spawn fail until called with false.
func (s *Spawner) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// Spawns returns how many times Spawn was called, failures included.
func (s *Spawner) Spawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

// Processes returns the processes started so far.
func (s *Spawner) Processes() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Process(nil), s.procs...)
}

// Last returns the most recent process, or nil.
func (s *Spawner) Last() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

// Process is an in-memory shell implementing session.Process.
type Process struct {
	root    bool
	handler Handler
	pid     int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	done     chan struct{}
	exitOnce sync.Once
	exitErr  error

	mu       sync.Mutex
	vars     map[string]string
	status   int
	commands []string
	signals  []os.Signal
}

var _ session.Process = (*Process)(nil)

func newProcess(root bool, h Handler) *Process {
	p := &Process{
		root:    root,
		handler: h,
		pid:     int(nextPid.Add(1)),
		done:    make(chan struct{}),
		vars:    make(map[string]string),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	return p
}

func (p *Process) Stdin() io.WriteCloser { return p.stdinW }
func (p *Process) Stdout() io.ReadCloser { return p.stdoutR }
func (p *Process) Pid() int { return p.pid }
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Wait() error {
	<-p.done
	return p.exitErr
}

// Signal records sig; any signal other than 0 terminates the process.
func (p *Process) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if sig == syscall.Signal(0) {
		return nil
	}
	p.exit(errors.New("signal: " + sig.String()))
	return nil
}

// Kill simulates the process being killed from outside.
func (p *Process) Kill() {
	p.exit(errors.New("signal: killed"))
}

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Commands returns the non-builtin command lines received, in order.
func (p *Process) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// Signals returns the signals delivered so far.
func (p *Process) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

func (p *Process) exit(err error) {
	p.exitOnce.Do(func() {
		p.exitErr = err
		_ = p.stdoutW.Close()
		_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		close(p.done)
	})
}

var assignStatus = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=\$\?$`)

func (p *Process) interpret() {
	sc := bufio.NewScanner(p.stdinR)
	for sc.Scan() {
		if !p.eval(sc.Text()) {
			return
		}
	}
	p.exit(nil)
}

// eval runs one line and reports whether to keep reading.
func (p *Process) eval(line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "exit" || strings.HasPrefix(trimmed, "exit "):
		p.exit(nil)
		return false
	case assignStatus.MatchString(trimmed):
		m := assignStatus.FindStringSubmatch(trimmed)
		p.mu.Lock()
		p.vars[m[1]] = strconv.Itoa(p.status)
		p.status = 0
		p.mu.Unlock()
		return true
	case trimmed == "echo" || strings.HasPrefix(trimmed, "echo "):
		return p.write(p.expand(strings.TrimSpace(strings.TrimPrefix(trimmed, "echo")))+"\n", 0)
	}

	p.mu.Lock()
	p.commands = append(p.commands, line)
	p.mu.Unlock()

	reply, ok := Reply{}, false
	if p.handler != nil {
		reply, ok = p.handler(p.root, trimmed)
	}
	if !ok {
		reply = builtin(p.root, trimmed)
	}
	switch reply.Action {
	case Hang:
		if reply.Output != "" {
			_, _ = io.WriteString(p.stdoutW, reply.Output)
		}
		go func() { _, _ = io.Copy(io.Discard, p.stdinR) }()
		<-p.done
		return false
	case Crash:
		if reply.Output != "" {
			_, _ = io.WriteString(p.stdoutW, reply.Output)
		}
		p.exit(errors.New("exit status 139"))
		return false
	}
	return p.write(reply.Output, reply.Code)
}

func (p *Process) write(out string, status int) bool {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
	if out == "" {
		return true
	}
	if _, err := io.WriteString(p.stdoutW, out); err != nil {
		p.exit(err)
		return false
	}
	return true
}

// expand handles the echo arguments the framing protocol uses: quoted
// literals, $? and $NAME.
func (p *Process) expand(arg string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case arg == "$?":
		return strconv.Itoa(p.status)
	case strings.HasPrefix(arg, "$"):
		return p.vars[strings.TrimPrefix(arg, "$")]
	case len(arg) >= 2 && arg[0] == '\'' && arg[len(arg)-1] == '\'':
		return arg[1 : len(arg)-1]
	case len(arg) >= 2 && arg[0] == '"' && arg[len(arg)-1] == '"':
		return arg[1 : len(arg)-1]
	}
	return arg
}

func builtin(root bool, line string) Reply {
	switch line {
	case "true", ":":
		return Reply{}
	case "false":
		return Reply{Code: 1}
	case "id":
		if root {
			return Reply{Output: "uid=0(root) gid=0(root) groups=0(root)\n"}
		}
		return Reply{Output: "uid=2000(shell) gid=2000(shell)\n"}
	}
	name, _, _ := strings.Cut(line, " ")
	return Reply{Output: "sh: " + name + ": not found\n", Code: 127}
}
