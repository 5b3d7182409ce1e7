//go:build !windows

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"github.com/dmora/rootshell"
	"golang.org/x/sys/unix"
)

// Default binaries for ExecSpawner.
const (
	DefaultShell = "sh"
	DefaultSu    = "su"
)

// ExecSpawner starts `su` (root) or `sh` (user) as a child process with
// stderr merged into stdout. The child gets its own process group so
// signals reach anything it started.
type ExecSpawner struct {
	// Shell is the user shell binary. Empty means DefaultShell.
	Shell string

	// Su is the privilege elevation binary. Empty means DefaultSu.
	Su string

	// Env overrides variables of the parent environment.
	Env map[string]string

	// Dir is the initial working directory. Empty inherits the parent's.
	Dir string
}

var _ Spawner = (*ExecSpawner)(nil)

// Binary returns the executable used for the given mode.
func (s *ExecSpawner) Binary(root bool) string {
	if root {
		if s.Su != "" {
			return s.Su
		}
		return DefaultSu
	}
	if s.Shell != "" {
		return s.Shell
	}
	return DefaultShell
}

// Spawn starts the shell. ctx only bounds the start itself; the process
// lives until its Session is destroyed.
func (s *ExecSpawner) Spawn(ctx context.Context, root bool) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", rootshell.ErrSpawn, err)
	}
	binary := s.Binary(root)
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", rootshell.ErrSpawn, binary, err)
	}
	if err := validateEnv(s.Env); err != nil {
		return nil, fmt.Errorf("%w: %w", rootshell.ErrSpawn, err)
	}

	cmd := exec.Command(resolved)
	cmd.Dir = s.Dir
	cmd.Env = mergeEnv(os.Environ(), s.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", rootshell.ErrSpawn, err)
	}
	// One pipe for both streams keeps stderr ordered with stdout.
	pr, pw, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: output pipe: %w", rootshell.ErrSpawn, err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("%w: start %s: %w", rootshell.ErrSpawn, binary, err)
	}
	// The child holds its own copy; ours must go so EOF is seen on exit.
	_ = pw.Close()

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: pr,
		done:   make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

// execProcess implements Process over an exec.Cmd.
type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File

	done    chan struct{} // closed by reap
	waitErr error         // set before done closes
}

func (p *execProcess) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Pid() int { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Wait() error {
	<-p.done
	return p.waitErr
}

// Signal targets the process group first and falls back to the leader.
func (p *execProcess) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if ssig, ok := sig.(syscall.Signal); ok {
		err := unix.Kill(-p.cmd.Process.Pid, ssig)
		if err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
	}
	return signalProcess(p.cmd.Process, sig)
}

// signalProcess sends sig to a process, returning nil if the process
// has already exited (os.ErrProcessDone).
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// validateEnv rejects keys that cannot be expressed in an environment
// block.
func validateEnv(env map[string]string) error {
	for k, v := range env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("env: invalid key %q", k)
		}
		if strings.Contains(v, "\x00") {
			return fmt.Errorf("env: value of %s contains null bytes", k)
		}
	}
	return nil
}

// mergeEnv overlays overrides on base. Nil overrides returns nil so the
// child inherits the parent environment unchanged.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
