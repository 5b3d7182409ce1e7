// Package batchfile reads TOML files describing batches for `rootshell run`.
//
//	version = 1
//
//	[[batch]]
//	name = "mounts"
//	command = "mount"
//	expand = true
//
//	[[batch]]
//	name = "uid"
//	attempts = [["id -u"], ["echo $UID"]]
//	success_codes = [0]
//	timeout = "5s"
package batchfile

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dmora/rootshell"
)

// Version is the supported file schema version.
const Version = 1

// File is a parsed batch file.
type File struct {
	Version int     `toml:"version"`
	Batches []Entry `toml:"batch"`
}

// Entry describes one batch. Exactly one of Command and Attempts is set.
type Entry struct {
	Name         string     `toml:"name"`
	Command      string     `toml:"command"`
	Expand       bool       `toml:"expand"`
	Attempts     [][]string `toml:"attempts"`
	SuccessCodes []int      `toml:"success_codes"`
	Timeout      string     `toml:"timeout"`
}

// Job is an Entry resolved into something an executor can run.
type Job struct {
	Name    string
	Batch   rootshell.Batch
	Options []rootshell.ExecOption
}

// Load reads and validates the batch file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	return Decode(string(data))
}

// Decode parses and validates batch file contents.
func Decode(data string) (*File, error) {
	var f File
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing batch file: unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the version and every entry.
func (f *File) Validate() error {
	if f.Version == 0 {
		return fmt.Errorf("batch file version missing (expected %d)", Version)
	}
	if f.Version != Version {
		return fmt.Errorf("unsupported batch file version %d (expected %d)", f.Version, Version)
	}
	if len(f.Batches) == 0 {
		return fmt.Errorf("batch file has no [[batch]] entries")
	}
	for i, e := range f.Batches {
		if err := e.validate(); err != nil {
			return fmt.Errorf("batch %d (%s): %w", i, e.label(i), err)
		}
	}
	return nil
}

func (e Entry) label(i int) string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("#%d", i)
}

func (e Entry) validate() error {
	hasCommand := strings.TrimSpace(e.Command) != ""
	switch {
	case hasCommand && len(e.Attempts) > 0:
		return fmt.Errorf("command and attempts are mutually exclusive")
	case !hasCommand && len(e.Attempts) == 0:
		return fmt.Errorf("one of command or attempts is required")
	case e.Expand && !hasCommand:
		return fmt.Errorf("expand requires command")
	}
	for i, lines := range e.Attempts {
		if len(lines) == 0 {
			return fmt.Errorf("attempt %d has no command lines", i)
		}
	}
	for _, code := range e.SuccessCodes {
		if code < 0 || code > 255 {
			return fmt.Errorf("success code %d is outside 0-255", code)
		}
	}
	if _, err := e.timeout(); err != nil {
		return err
	}
	return nil
}

func (e Entry) timeout() (time.Duration, error) {
	if e.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.Timeout)
	if err != nil {
		return 0, fmt.Errorf("timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got: %v", d)
	}
	return d, nil
}

// Jobs resolves every entry in file order. binaries is the prefix list
// used for entries with expand set.
func (f *File) Jobs(binaries []string) ([]Job, error) {
	jobs := make([]Job, 0, len(f.Batches))
	for i, e := range f.Batches {
		j, err := e.Build(binaries)
		if err != nil {
			return nil, fmt.Errorf("batch %d (%s): %w", i, e.label(i), err)
		}
		if j.Name == "" {
			j.Name = e.label(i)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Build resolves the entry into a Job.
func (e Entry) Build(binaries []string) (Job, error) {
	if err := e.validate(); err != nil {
		return Job{}, err
	}

	var batch rootshell.Batch
	switch {
	case e.Expand:
		batch = rootshell.Expand(e.Command, binaries)
	case e.Command != "":
		batch = rootshell.Commands(e.Command)
	default:
		for _, lines := range e.Attempts {
			batch = append(batch, rootshell.Attempt(lines))
		}
	}
	if err := batch.Validate(); err != nil {
		return Job{}, err
	}

	var opts []rootshell.ExecOption
	if len(e.SuccessCodes) > 0 {
		opts = append(opts, rootshell.WithSuccessCodes(e.SuccessCodes...))
	}
	if d, _ := e.timeout(); d > 0 {
		opts = append(opts, rootshell.WithReadTimeout(d))
	}
	return Job{Name: e.Name, Batch: batch.Clone(), Options: opts}, nil
}
