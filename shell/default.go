//go:build !windows

package shell

import (
	"context"

	"github.com/dmora/rootshell/session"
)

// Default is the process-wide registry backed by `su` and `sh`.
var Default = NewRegistry(&session.ExecSpawner{})

// Open is Default.Open.
func Open(ctx context.Context, name string, root bool, opts ...Option) (*Shell, error) {
	return Default.Open(ctx, name, root, opts...)
}
