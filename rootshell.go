// Package rootshell drives a long-lived shell process (`su` or `sh`) with
// framed command batches and recovers the output and exit status of each
// logical command without spawning a process per command.
//
// The root package defines the shared vocabulary. Transport and protocol
// live in subpackages:
//
//   - [frame] encodes an [Attempt] with a sentinel epilogue and decodes the
//     reply stream into output lines and an exit code
//   - session owns one spawned shell process and its streams
//   - shell layers supervision, serialized execution, asynchronous
//     scheduling and a named-instance registry on top of a session
//
// # Core Types
//
//   - [Attempt] — command lines sent together, sharing one exit code
//   - [Batch] — ordered attempts tried until one succeeds
//   - [SuccessSet] — exit codes treated as success (zero value means {0})
//   - [Result] — output lines, exit code and the index of the attempt used
//   - [ExecOption] — functional options for one execution
//   - [Listener] — connection and result notifications
//
// # Quick Start
//
//	sh, err := shell.New(ctx, &session.ExecSpawner{}, true)
//	if err != nil { log.Fatal(err) }
//	defer sh.Close(ctx)
//
//	res, err := sh.Execute(ctx, sh.Attempts("df /data"))
//	if err != nil { log.Fatal(err) }
//	for _, line := range res.Lines {
//	    fmt.Println(line)
//	}
//
// [frame]: https://pkg.go.dev/github.com/dmora/rootshell/frame
package rootshell
