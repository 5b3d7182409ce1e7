package rootshell

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// UnknownExitCode is reported when the status between the sentinels
// could not be parsed as an integer.
const UnknownExitCode = -1

// Attempt is one or more command lines written to the shell together.
// The exit code of the attempt is the status of its last line.
type Attempt []string

// Batch is an ordered list of alternative attempts. Attempts are tried in
// order until one yields a success code; later attempts are never sent
// once one succeeds.
type Batch []Attempt

// NewBatch builds a batch from the given attempts.
func NewBatch(attempts ...Attempt) Batch {
	return Batch(attempts)
}

// Commands builds a batch where every command is its own single-line
// attempt.
func Commands(cmds ...string) Batch {
	b := make(Batch, 0, len(cmds))
	for _, c := range cmds {
		b = append(b, Attempt{c})
	}
	return b
}

// Validate reports ErrInvalidAttempt for an empty batch or an attempt with
// no lines.
func (b Batch) Validate() error {
	if len(b) == 0 {
		return fmt.Errorf("%w: no attempts", ErrInvalidAttempt)
	}
	for i, a := range b {
		if len(a) == 0 {
			return fmt.Errorf("%w: attempt %d has no command lines", ErrInvalidAttempt, i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can keep mutating their slices
// while the batch is queued.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	for i, a := range b {
		out[i] = slices.Clone(a)
	}
	return out
}

// SuccessSet is the set of exit codes treated as success. The zero value
// contains exactly {0}. A SuccessSet is immutable; With returns a copy.
type SuccessSet struct {
	codes []int
}

// NewSuccessSet returns a set holding exactly the given codes. With no
// codes it is equivalent to the zero value.
func NewSuccessSet(codes ...int) SuccessSet {
	if len(codes) == 0 {
		return SuccessSet{}
	}
	c := slices.Clone(codes)
	slices.Sort(c)
	return SuccessSet{codes: slices.Compact(c)}
}

// Contains reports whether code is a success code.
func (s SuccessSet) Contains(code int) bool {
	if len(s.codes) == 0 {
		return code == 0
	}
	_, ok := slices.BinarySearch(s.codes, code)
	return ok
}

// With returns a new set that also admits code.
func (s SuccessSet) With(code int) SuccessSet {
	return NewSuccessSet(append(s.Codes(), code)...)
}

// Codes returns the sorted codes in the set.
func (s SuccessSet) Codes() []int {
	if len(s.codes) == 0 {
		return []int{0}
	}
	return slices.Clone(s.codes)
}

func (s SuccessSet) String() string {
	parts := make([]string, 0, len(s.Codes()))
	for _, c := range s.Codes() {
		parts = append(parts, fmt.Sprint(c))
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the set as a sorted array of codes.
func (s SuccessSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Codes())
}

// UnmarshalJSON decodes an array of codes.
func (s *SuccessSet) UnmarshalJSON(data []byte) error {
	var codes []int
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = NewSuccessSet(codes...)
	return nil
}

// Result is the outcome of one batch execution.
type Result struct {
	// Lines holds the output of the attempt that produced the result,
	// in order, with the protective trailing blank line removed.
	Lines []string `json:"lines"`

	// ExitCode is the status of the last command line of the attempt,
	// or UnknownExitCode if it could not be parsed.
	ExitCode int `json:"exit_code"`

	// SuccessCodes is the set the exit code was judged against,
	// including any codes admitted by a validator.
	SuccessCodes SuccessSet `json:"success_codes"`

	// Attempt is the index of the attempt that produced this result.
	Attempt int `json:"attempt"`

	// Duration covers the whole batch, lock wait excluded.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Success reports whether ExitCode is in SuccessCodes.
func (r Result) Success() bool {
	return r.SuccessCodes.Contains(r.ExitCode)
}

// Line returns the last non-empty output line, or "" if there is none.
func (r Result) Line() string {
	for i := len(r.Lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(r.Lines[i]) != "" {
			return r.Lines[i]
		}
	}
	return ""
}

// Output joins the output lines with newlines.
func (r Result) Output() string {
	return strings.Join(r.Lines, "\n")
}
