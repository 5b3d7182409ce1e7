package frame

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dmora/rootshell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reply renders what a POSIX shell prints for one framed attempt whose
// command wrote output and exited with code.
func reply(sentinel, output, code string) string {
	return output + "\n" + sentinel + "\n" + code + "\n" + sentinel + "\n"
}

func decodeString(t *testing.T, f *Framer, stream string) ([]string, int, error) {
	t.Helper()
	return f.Decode(context.Background(), NewScanner(strings.NewReader(stream), 0))
}

// chanReader is a LineReader fed from a channel that honours ctx.
type chanReader chan string

func (c chanReader) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Encode
// ---------------------------------------------------------------------------

func TestEncode_Layout(t *testing.T) {
	f := New("SENT")
	got, err := f.Encode(rootshell.Attempt{"cd /data", "ls"})
	require.NoError(t, err)
	want := "cd /data\nls\n" +
		"__rs_status=$?\n" +
		"echo ''\n" +
		"echo SENT\n" +
		"echo $__rs_status\n" +
		"echo SENT\n"
	assert.Equal(t, want, string(got))
}

func TestEncode_Rejects(t *testing.T) {
	f := Default()
	tests := []struct {
		name    string
		attempt rootshell.Attempt
	}{
		{"empty", nil},
		{"newline", rootshell.Attempt{"echo a\necho b"}},
		{"carriage return", rootshell.Attempt{"echo a\r"}},
		{"sentinel", rootshell.Attempt{"echo " + DefaultSentinel}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Encode(tt.attempt)
			assert.ErrorIs(t, err, rootshell.ErrInvalidAttempt)
		})
	}
}

func TestEncode_EmptyLineAllowed(t *testing.T) {
	_, err := Default().Encode(rootshell.Attempt{""})
	assert.NoError(t, err)
}

func TestNew_EmptySelectsDefault(t *testing.T) {
	assert.Equal(t, DefaultSentinel, New("").Sentinel())
}

func TestNewSentinel_Unique(t *testing.T) {
	a, b := NewSentinel(), NewSentinel()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "EOL:"))
	assert.True(t, strings.HasSuffix(a, ":EOL"))
	assert.NotContains(t, a, " ")
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

func TestDecode_TrailingNewlineIndependence(t *testing.T) {
	f := New("SENT")
	withNL, code1, err := decodeString(t, f, reply("SENT", "a\nb\n", "0"))
	require.NoError(t, err)
	withoutNL, code2, err := decodeString(t, f, reply("SENT", "a\nb", "0"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, withNL)
	assert.Equal(t, withNL, withoutNL)
	assert.Equal(t, 0, code1)
	assert.Equal(t, 0, code2)
}

func TestDecode_Cases(t *testing.T) {
	f := New("SENT")
	tests := []struct {
		name      string
		stream    string
		wantLines []string
		wantCode  int
	}{
		{"no output", reply("SENT", "", "1"), []string{}, 1},
		{"single blank line kept", reply("SENT", "\n", "0"), []string{""}, 0},
		{"trailing blank line kept", reply("SENT", "a\n\n", "0"), []string{"a", ""}, 0},
		{"carriage returns stripped", "a\r\n\r\nSENT\r\n3\r\nSENT\r\n", []string{"a"}, 3},
		{"unparseable status", reply("SENT", "x", "oops"), []string{"x"}, rootshell.UnknownExitCode},
		{"blank lines around status", "x\n\nSENT\n\n42\n  \nSENT\n", []string{"x"}, 42},
		{"last status line wins", "\nSENT\n1\n2\nSENT\n", []string{}, 2},
		{"no status line", "\nSENT\nSENT\n", []string{}, rootshell.UnknownExitCode},
		{"output merged into sentinel", "abcSENT\n0\nSENT\n", []string{"abc"}, 0},
		{"negative code", reply("SENT", "", "-3"), []string{}, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, code, err := decodeString(t, f, tt.stream)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLines, lines)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestDecode_ConsecutiveReplies(t *testing.T) {
	f := New("SENT")
	sc := NewScanner(strings.NewReader(reply("SENT", "one", "0")+reply("SENT", "two\n", "7")), 0)
	ctx := context.Background()

	lines, code, err := f.Decode(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, lines)
	assert.Equal(t, 0, code)

	lines, code, err = f.Decode(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, lines)
	assert.Equal(t, 7, code)
}

func TestDecode_EOFBeforeFirstSentinel(t *testing.T) {
	_, code, err := decodeString(t, New("SENT"), "partial output\n")
	assert.ErrorIs(t, err, rootshell.ErrProtocolDesync)
	assert.Equal(t, rootshell.UnknownExitCode, code)
}

func TestDecode_EOFBeforeSecondSentinel(t *testing.T) {
	_, _, err := decodeString(t, New("SENT"), "out\n\nSENT\n0\n")
	assert.ErrorIs(t, err, rootshell.ErrProtocolDesync)
	assert.NotErrorIs(t, err, ErrNoReply)
}

func TestDecode_EOFBeforeAnyLineIsNoReply(t *testing.T) {
	_, code, err := decodeString(t, New("SENT"), "")
	assert.ErrorIs(t, err, rootshell.ErrProtocolDesync)
	assert.ErrorIs(t, err, ErrNoReply)
	assert.Equal(t, rootshell.UnknownExitCode, code)

	_, _, err = decodeString(t, New("SENT"), "partial output\n")
	assert.NotErrorIs(t, err, ErrNoReply, "output was seen")
}

func TestDecode_ReadError(t *testing.T) {
	r := &errReader{err: errors.New("broken pipe")}
	_, _, err := New("SENT").Decode(context.Background(), r)
	assert.ErrorIs(t, err, rootshell.ErrProtocolDesync)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestDecode_Timeout(t *testing.T) {
	lines := make(chanReader, 4)
	lines <- "output"
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := New("SENT").Decode(ctx, lines)
	assert.ErrorIs(t, err, rootshell.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// Exchange
// ---------------------------------------------------------------------------

type loopConn struct {
	chanReader
	written []byte
	respond string
}

func (c *loopConn) Write(p []byte) error {
	c.written = append(c.written, p...)
	for _, l := range strings.SplitAfter(c.respond, "\n") {
		if l != "" {
			c.chanReader <- strings.TrimSuffix(l, "\n")
		}
	}
	return nil
}

func TestExchange_WritesThenDecodes(t *testing.T) {
	f := New("SENT")
	c := &loopConn{chanReader: make(chanReader, 16), respond: reply("SENT", "uid=0(root)", "0")}
	lines, code, err := f.Exchange(context.Background(), c, rootshell.Attempt{"id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"uid=0(root)"}, lines)
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(string(c.written), "id\n__rs_status=$?\n"))
}

func TestExchange_InvalidAttemptWritesNothing(t *testing.T) {
	c := &loopConn{chanReader: make(chanReader, 1)}
	_, _, err := New("SENT").Exchange(context.Background(), c, rootshell.Attempt{"echo SENT"})
	assert.ErrorIs(t, err, rootshell.ErrInvalidAttempt)
	assert.Empty(t, c.written)
}

type errReader struct{ err error }

func (r *errReader) ReadLine(context.Context) (string, error) { return "", r.err }
