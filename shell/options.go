package shell

import (
	"log/slog"
	"time"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/session"
)

// Default shell configuration values.
const (
	defaultConnectRetries = 2
	defaultReadTimeout    = 15 * time.Second
	defaultQueueSize      = 64
)

// Options holds resolved construction-time configuration for a Shell.
type Options struct {
	// ConnectRetries is how many spawn attempts the initial connect makes.
	ConnectRetries int

	// ConnectLock, if set, is a lock file held around every spawn so
	// concurrent programs do not race the privilege elevation prompt.
	ConnectLock string

	// Binaries is the prefix list used by Attempts and FindCommand.
	Binaries []string

	// QueueSize is the scheduler's queue capacity.
	QueueSize int

	// UniqueSentinel gives each session a random framing marker.
	UniqueSentinel bool

	// Session options applied to every spawn.
	Session []session.Option

	// Exec options applied before per-call options on every execution.
	Exec []rootshell.ExecOption

	Listeners []rootshell.Listener

	Logger *slog.Logger
}

// Option configures a Shell at construction time.
type Option func(*Options)

// WithConnectRetries sets the number of initial spawn attempts.
// Values <= 0 are ignored.
func WithConnectRetries(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ConnectRetries = n
		}
	}
}

// WithConnectLock serializes spawns across processes through a lock file.
func WithConnectLock(path string) Option {
	return func(o *Options) {
		o.ConnectLock = path
	}
}

// WithBinaries sets the prefix list for attempt expansion. Nil is ignored;
// an empty slice disables prefixes.
func WithBinaries(binaries []string) Option {
	return func(o *Options) {
		if binaries != nil {
			o.Binaries = append([]string(nil), binaries...)
		}
	}
}

// WithQueueSize sets the scheduler queue capacity.
// Values <= 0 are ignored.
func WithQueueSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

// WithUniqueSentinel gives each spawned session a random framing marker.
func WithUniqueSentinel() Option {
	return func(o *Options) {
		o.UniqueSentinel = true
	}
}

// WithSessionOptions appends options passed to session.Connect.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *Options) {
		o.Session = append(o.Session, opts...)
	}
}

// WithExecDefaults appends execution options applied to every batch
// before the per-call options.
func WithExecDefaults(opts ...rootshell.ExecOption) Option {
	return func(o *Options) {
		o.Exec = append(o.Exec, opts...)
	}
}

// WithListener registers a listener before the first connect, so it
// observes the initial OnConnected.
func WithListener(l rootshell.Listener) Option {
	return func(o *Options) {
		if l != nil {
			o.Listeners = append(o.Listeners, l)
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func resolveOptions(opts ...Option) Options {
	o := Options{
		ConnectRetries: defaultConnectRetries,
		Binaries:       rootshell.DefaultBinaries,
		QueueSize:      defaultQueueSize,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// execOptions resolves the per-call options on top of the shell defaults.
func (o Options) execOptions(opts []rootshell.ExecOption) rootshell.ExecOptions {
	all := make([]rootshell.ExecOption, 0, len(o.Exec)+len(opts)+1)
	all = append(all, rootshell.WithReadTimeout(defaultReadTimeout))
	all = append(all, o.Exec...)
	all = append(all, opts...)
	return rootshell.ResolveExecOptions(all...)
}
