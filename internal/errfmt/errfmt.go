// Package errfmt formats shell text for error messages and log records.
// Command lines and output come from an arbitrary process, so everything
// is capped and control characters are escaped.
package errfmt

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxLen caps formatted text to keep log records bounded.
const MaxLen = 256

const ellipsis = "..."

// truncateUTF8 caps s at limit bytes, backtracking to a valid UTF-8 boundary.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Truncate caps s at MaxLen bytes, marking the cut with "...".
func Truncate(s string) string {
	if len(s) <= MaxLen {
		return s
	}
	return truncateUTF8(s, MaxLen-len(ellipsis)) + ellipsis
}

// Quote truncates s and renders it as a Go string literal so control
// characters and stray carriage returns stay visible.
func Quote(s string) string {
	return strconv.Quote(Truncate(s))
}

// Tail joins the last n lines with " | " for a one-line summary.
func Tail(lines []string, n int) string {
	if n <= 0 || len(lines) == 0 {
		return ""
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return Truncate(strings.Join(lines, " | "))
}
