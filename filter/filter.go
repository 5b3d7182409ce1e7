// Package filter provides composable channel middleware over batch
// results. Stream turns a shell's result notifications into a channel;
// the other functions narrow such a channel down to what a consumer needs.
package filter

import (
	"context"
	"slices"

	"github.com/dmora/rootshell"
)

// Subscriber is anything that accepts a listener and returns a function
// removing it again, such as *shell.Shell.
type Subscriber interface {
	AddListener(l rootshell.Listener) (remove func())
}

// Stream returns a channel receiving every result src reports until ctx is
// cancelled, at which point the listener is removed and the channel
// closed. Listener callbacks must not block, so results arriving while
// the buffer is full are dropped.
func Stream(ctx context.Context, src Subscriber, buffer int) <-chan rootshell.Result {
	in := make(chan rootshell.Result, max(buffer, 1))
	remove := src.AddListener(rootshell.ListenerFuncs{
		CommandResult: func(res rootshell.Result) {
			select {
			case in <- res:
			default:
			}
		},
	})

	out := make(chan rootshell.Result)
	go func() {
		defer close(out)
		defer remove()
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-in:
				if !trySend(ctx, out, res) {
					return
				}
			}
		}
	}()
	return out
}

// Filter returns a channel that only passes results accepted by keep.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
// The returned channel is closed when the goroutine exits.
func Filter(ctx context.Context, ch <-chan rootshell.Result, keep func(rootshell.Result) bool) <-chan rootshell.Result {
	return pipe(ctx, ch, keep)
}

// Failed passes only results whose exit code is not a success code.
func Failed(ctx context.Context, ch <-chan rootshell.Result) <-chan rootshell.Result {
	return pipe(ctx, ch, func(res rootshell.Result) bool {
		return !res.Success()
	})
}

// Succeeded passes only successful results.
func Succeeded(ctx context.Context, ch <-chan rootshell.Result) <-chan rootshell.Result {
	return pipe(ctx, ch, rootshell.Result.Success)
}

// ExitCodes passes only results with one of the given exit codes.
func ExitCodes(ctx context.Context, ch <-chan rootshell.Result, codes ...int) <-chan rootshell.Result {
	return pipe(ctx, ch, func(res rootshell.Result) bool {
		return slices.Contains(codes, res.ExitCode)
	})
}

// pipe spawns a goroutine that reads from ch, passes results matching
// the predicate to the returned channel, and closes it when ch closes
// or ctx is cancelled. Callers must either drain the returned channel
// or cancel ctx to avoid goroutine leaks.
func pipe(ctx context.Context, ch <-chan rootshell.Result, accept func(rootshell.Result) bool) <-chan rootshell.Result {
	out := make(chan rootshell.Result)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-ch:
				if !ok {
					return
				}
				if accept(res) && !trySend(ctx, out, res) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends res on out, returning false if ctx is cancelled first.
func trySend(ctx context.Context, out chan<- rootshell.Result, res rootshell.Result) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
