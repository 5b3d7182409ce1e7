// Command rootshell runs commands through a persistent sh or su session.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var exit = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			exit(ee.code)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
}

// exitError carries a process exit status without an error message, for
// commands whose failure has already been rendered.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
