package shell

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dmora/rootshell"
)

// ErrCommandNotFound indicates no binary prefix provides a command.
var ErrCommandNotFound = errors.New("shell: command not found")

var envNameStrip = regexp.MustCompile(`[^A-Za-z0-9_]`)

// FindCommand returns the first prefix form of bin that exists on the
// device ("busybox ls", "toolbox ls" or "ls"), probing each with `-h`.
// Results are cached per shell.
func (sh *Shell) FindCommand(ctx context.Context, bin string) (string, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return "", fmt.Errorf("%w: empty name", ErrCommandNotFound)
	}
	c := sh.c
	c.cmdMu.Lock()
	cached, ok := c.cmdCache[bin]
	c.cmdMu.Unlock()
	if ok {
		return cached, nil
	}

	for _, prefix := range c.opts.Binaries {
		candidate := bin
		if prefix != "" {
			candidate = prefix + " " + bin
		}
		// Any exit code is fine; only the text tells missing from present.
		res, err := sh.Execute(ctx, rootshell.Commands(candidate+" -h"),
			rootshell.WithValidator(func(rootshell.Attempt, int, []string) bool { return true }))
		if err != nil {
			return "", err
		}
		if res.ExitCode == 127 || missingCommand(res.Line()) {
			continue
		}
		c.cmdMu.Lock()
		c.cmdCache[bin] = candidate
		c.cmdMu.Unlock()
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %s", ErrCommandNotFound, bin)
}

func missingCommand(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasSuffix(line, "not found") || strings.HasSuffix(line, "such tool")
}

// SanitizeEnvName strips everything but letters, digits and underscores.
func SanitizeEnvName(name string) string {
	return envNameStrip.ReplaceAllString(name, "")
}

// Env returns the value of an environment variable in the shell and
// whether it is set.
func (sh *Shell) Env(ctx context.Context, name string) (string, bool, error) {
	n := SanitizeEnvName(name)
	if n == "" {
		return "", false, fmt.Errorf("shell: invalid variable name %q", name)
	}
	res, err := sh.Execute(ctx, rootshell.Commands(
		`[ -n "${`+n+`+x}" ] && printf '%s\n' "$`+n+`"`,
	), rootshell.WithSuccessCodes(0, 1))
	if err != nil {
		return "", false, err
	}
	if res.ExitCode != 0 {
		return "", false, nil
	}
	return res.Output(), true, nil
}

// SetEnv exports a variable in the shell. It persists for later batches
// on the same session but not across a reconnect.
func (sh *Shell) SetEnv(ctx context.Context, name, value string) error {
	n := SanitizeEnvName(name)
	if n == "" {
		return fmt.Errorf("shell: invalid variable name %q", name)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("shell: value of %s contains a newline", n)
	}
	res, err := sh.Execute(ctx, rootshell.Commands("export "+n+"="+QuoteArg(value)))
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("shell: export %s: exit code %d: %s", n, res.ExitCode, res.Line())
	}
	return nil
}

// QuoteArg wraps s in single quotes so the shell passes it through
// literally.
func QuoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
