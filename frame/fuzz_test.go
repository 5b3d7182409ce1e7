package frame

import (
	"strconv"
	"strings"
	"testing"
)

func FuzzDecodeRoundTrip(f *testing.F) {
	f.Add("hello", 0)
	f.Add("", 1)
	f.Add("a\nb\n", 127)
	f.Add("\n\n", 2)
	f.Add("no newline at end", 255)

	f.Fuzz(func(t *testing.T, output string, code int) {
		if strings.ContainsAny(output, "\r") || strings.Contains(output, "SENT") {
			return
		}
		fr := New("SENT")
		lines, got, err := decodeString(t, fr, reply("SENT", output, strconv.Itoa(code)))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != code {
			t.Fatalf("code = %d, want %d", got, code)
		}
		want := []string{}
		if output != "" {
			want = strings.Split(strings.TrimSuffix(output, "\n"), "\n")
		}
		if strings.Join(lines, "\n") != strings.Join(want, "\n") || len(lines) != len(want) {
			t.Fatalf("lines = %q, want %q", lines, want)
		}
	})
}

func FuzzDecodeNoPanic(f *testing.F) {
	f.Add("SENT\n0\nSENT\n")
	f.Add("garbage")
	f.Add("SENT\nSENT\nSENT\n")

	f.Fuzz(func(t *testing.T, stream string) {
		lines, code, err := decodeString(t, New("SENT"), stream)
		if err == nil && lines == nil {
			t.Fatalf("nil lines without error (code %d)", code)
		}
	})
}
