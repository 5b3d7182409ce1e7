package rootshell

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSuccessCodes parses a comma separated list such as "0,1,130".
// An empty string yields the zero SuccessSet ({0}). Whitespace around
// entries is ignored; null bytes and non-integer entries are rejected.
func ParseSuccessCodes(s string) (SuccessSet, error) {
	if strings.TrimSpace(s) == "" {
		return SuccessSet{}, nil
	}
	if strings.Contains(s, "\x00") {
		return SuccessSet{}, fmt.Errorf("success codes: value contains null bytes")
	}
	fields := strings.Split(s, ",")
	codes := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return SuccessSet{}, fmt.Errorf("success codes: %q is not a valid integer", f)
		}
		if n < 0 || n > 255 {
			return SuccessSet{}, fmt.Errorf("success codes: %d is outside 0-255", n)
		}
		codes = append(codes, n)
	}
	return NewSuccessSet(codes...), nil
}
