package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/internal/errfmt"
)

// userProbeToken is echoed by unprivileged shells to prove the framing
// round trip works.
const userProbeToken = "rootshell:ready"

// rootProbes are tried in order until one exits 0. Shells without `id`
// fall back to a literal echo, which only a shell that su actually
// elevated will reach, because su refusing exits the process instead.
var rootProbes = []rootshell.Attempt{
	{"id"},
	{"echo 'uid=0'"},
}

// ErrNotRoot indicates a root session whose probe did not report uid=0.
var ErrNotRoot = errors.New("session: shell is not running as uid 0")

func (s *Session) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	if !s.root {
		lines, code, err := s.Exchange(ctx, rootshell.Attempt{"echo '" + userProbeToken + "'"})
		if err != nil {
			return err
		}
		for _, l := range lines {
			if strings.TrimSpace(l) == userProbeToken {
				s.probeLine = l
				return nil
			}
		}
		return fmt.Errorf("unexpected reply (code %d): %s", code, errfmt.Quote(errfmt.Tail(lines, 3)))
	}

	for _, attempt := range rootProbes {
		lines, code, err := s.Exchange(ctx, attempt)
		if err != nil {
			return err
		}
		if code != 0 {
			continue
		}
		for _, l := range lines {
			if strings.Contains(l, "uid=0") {
				s.probeLine = l
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotRoot, errfmt.Quote(errfmt.Tail(lines, 1)))
	}
	return ErrNotRoot
}
