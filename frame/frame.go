// Package frame implements the double-sentinel protocol used to run
// commands in a persistent shell.
//
// Every attempt is followed by an epilogue that records the exit status,
// prints a protective blank line, then the status between two sentinel
// lines:
//
//	<command lines>
//	__rs_status=$?
//	echo ''
//	echo <sentinel>
//	echo $__rs_status
//	echo <sentinel>
//
// The blank line guarantees the first sentinel starts on its own line even
// when the command output lacked a trailing newline. Decode removes it
// again, so the recovered output does not depend on that detail.
package frame

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/internal/errfmt"
	"github.com/google/uuid"
)

// DefaultSentinel is the marker shared by every session that does not ask
// for a unique one.
const DefaultSentinel = "EOL:a00c38d8:EOL"

// StatusVar is the shell variable holding the status of the last command
// line between encode and decode.
const StatusVar = "__rs_status"

// ErrNoReply marks a desync where the stream ended before the shell
// produced a single line for the attempt, as happens when the process
// died before the attempt reached it.
var ErrNoReply = errors.New("frame: stream ended before any reply")

// LineReader yields one line at a time without its trailing newline.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Conn is a bidirectional line stream to a shell.
type Conn interface {
	LineReader
	Write(p []byte) error
}

// Framer encodes attempts and decodes replies for one sentinel.
type Framer struct {
	sentinel string
}

// New returns a Framer for sentinel. An empty sentinel selects
// DefaultSentinel.
func New(sentinel string) *Framer {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	return &Framer{sentinel: sentinel}
}

// Default returns a Framer for DefaultSentinel.
func Default() *Framer {
	return New(DefaultSentinel)
}

// NewSentinel builds a random marker for sessions that must not collide
// with output that happens to contain DefaultSentinel.
func NewSentinel() string {
	return "EOL:" + strings.ReplaceAll(uuid.NewString(), "-", "") + ":EOL"
}

// Sentinel returns the marker this Framer writes and looks for.
func (f *Framer) Sentinel() string { return f.sentinel }

// Encode renders attempt plus the status epilogue as one write.
// Lines containing a newline or the sentinel are rejected because they
// would break line-based decoding.
func (f *Framer) Encode(attempt rootshell.Attempt) ([]byte, error) {
	if len(attempt) == 0 {
		return nil, fmt.Errorf("%w: attempt has no command lines", rootshell.ErrInvalidAttempt)
	}
	var b strings.Builder
	for i, line := range attempt {
		if strings.ContainsAny(line, "\r\n") {
			return nil, fmt.Errorf("%w: line %d contains a newline", rootshell.ErrInvalidAttempt, i)
		}
		if strings.Contains(line, f.sentinel) {
			return nil, fmt.Errorf("%w: line %d contains the sentinel", rootshell.ErrInvalidAttempt, i)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(StatusVar + "=$?\n")
	b.WriteString("echo ''\n")
	b.WriteString("echo " + f.sentinel + "\n")
	b.WriteString("echo $" + StatusVar + "\n")
	b.WriteString("echo " + f.sentinel + "\n")
	return []byte(b.String()), nil
}

// Decode reads one framed reply from r. It returns the output lines and
// the exit code; a status that is not an integer yields
// rootshell.UnknownExitCode without an error.
//
// Errors wrap rootshell.ErrTimeout when ctx expires and
// rootshell.ErrProtocolDesync when the stream ends or fails before the
// closing sentinel. Either way the stream position is unknown afterwards.
func (f *Framer) Decode(ctx context.Context, r LineReader) ([]string, int, error) {
	lines := make([]string, 0, 8)
	for {
		line, err := r.ReadLine(ctx)
		if err != nil {
			return nil, rootshell.UnknownExitCode, readError("output", lines, err)
		}
		line = strings.TrimSuffix(line, "\r")
		if idx := strings.Index(line, f.sentinel); idx >= 0 {
			// Output merged into the sentinel line keeps its prefix.
			if idx > 0 {
				lines = append(lines, line[:idx])
			}
			break
		}
		lines = append(lines, line)
	}

	code := rootshell.UnknownExitCode
	for {
		line, err := r.ReadLine(ctx)
		if err != nil {
			return nil, rootshell.UnknownExitCode, readError("status", lines, err)
		}
		line = strings.TrimSuffix(line, "\r")
		if strings.Contains(line, f.sentinel) {
			break
		}
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		if n, err := strconv.Atoi(s); err == nil {
			code = n
		} else {
			code = rootshell.UnknownExitCode
		}
	}

	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines, code, nil
}

// Exchange encodes attempt, writes it to c and decodes the reply.
func (f *Framer) Exchange(ctx context.Context, c Conn, attempt rootshell.Attempt) ([]string, int, error) {
	data, err := f.Encode(attempt)
	if err != nil {
		return nil, rootshell.UnknownExitCode, err
	}
	if err := c.Write(data); err != nil {
		return nil, rootshell.UnknownExitCode, err
	}
	return f.Decode(ctx, c)
}

func readError(stage string, seen []string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: waiting for %s: %w", rootshell.ErrTimeout, stage, err)
	case errors.Is(err, rootshell.ErrProtocolDesync):
		return err
	case errors.Is(err, io.EOF) && stage == "output" && len(seen) == 0:
		return fmt.Errorf("%w: %w", rootshell.ErrProtocolDesync, ErrNoReply)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: stream closed while reading %s (last output: %s)",
			rootshell.ErrProtocolDesync, stage, errfmt.Quote(errfmt.Tail(seen, 3)))
	default:
		return fmt.Errorf("%w: reading %s: %w", rootshell.ErrProtocolDesync, stage, err)
	}
}

// Scanner adapts an io.Reader to LineReader. ReadLine blocks on the
// underlying reader and only checks ctx before each read.
type Scanner struct {
	sc *bufio.Scanner
}

// NewScanner wraps r with a line scanner whose buffer grows to maxLine
// bytes. maxLine <= 0 selects bufio.MaxScanTokenSize.
func NewScanner(r io.Reader, maxLine int) *Scanner {
	if maxLine <= 0 {
		maxLine = bufio.MaxScanTokenSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)
	return &Scanner{sc: sc}
}

// ReadLine returns the next line, io.EOF at the end of input, or the
// scanner's error.
func (s *Scanner) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
