package session

import (
	"context"
	"io"
	"os"
)

// Spawner starts a shell process. root selects a privileged shell.
type Spawner interface {
	Spawn(ctx context.Context, root bool) (Process, error)
}

// Process is a running shell with stderr already merged into Stdout.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Pid() int

	// Signal delivers sig to the process and its children. It returns nil
	// if the process already exited.
	Signal(sig os.Signal) error

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// Wait blocks until Done and returns the exit error, if any.
	Wait() error
}
