package session

import (
	"log/slog"
	"time"

	"github.com/dmora/rootshell/frame"
)

// Default session configuration values.
const (
	defaultLineBuffer    = 256
	defaultScannerBuffer = 1 << 20 // 1 MB
	defaultGracePeriod   = 2 * time.Second
	defaultProbeTimeout  = 10 * time.Second
	killWait             = 2 * time.Second
)

// Options holds resolved configuration for Connect.
type Options struct {
	// LineBuffer is the channel buffer between the reader goroutine and
	// ReadLine.
	LineBuffer int

	// ScannerBuffer is the maximum line size in bytes for the stdout scanner.
	ScannerBuffer int

	// GracePeriod is how long a graceful Destroy waits after `exit 0`
	// before signalling.
	GracePeriod time.Duration

	// ProbeTimeout bounds the startup probe.
	ProbeTimeout time.Duration

	// Sentinel is the framing marker; empty selects frame.DefaultSentinel.
	Sentinel string

	// Probe enables the startup probe. Enabled by default.
	Probe bool

	Logger *slog.Logger
}

// Option configures Connect.
type Option func(*Options)

// WithLineBuffer sets the line channel buffer size.
// Values <= 0 are ignored.
func WithLineBuffer(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.LineBuffer = size
		}
	}
}

// WithScannerBuffer sets the maximum line size in bytes.
// Values <= 0 are ignored.
func WithScannerBuffer(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ScannerBuffer = size
		}
	}
}

// WithGracePeriod sets the wait between `exit 0` and SIGTERM.
// Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.GracePeriod = d
		}
	}
}

// WithProbeTimeout bounds the startup probe.
// Values <= 0 are ignored.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ProbeTimeout = d
		}
	}
}

// WithSentinel sets the framing marker for this session.
func WithSentinel(s string) Option {
	return func(o *Options) {
		if s != "" {
			o.Sentinel = s
		}
	}
}

// WithProbe enables or disables the startup probe.
func WithProbe(enabled bool) Option {
	return func(o *Options) {
		o.Probe = enabled
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
		LineBuffer:    defaultLineBuffer,
		ScannerBuffer: defaultScannerBuffer,
		GracePeriod:   defaultGracePeriod,
		ProbeTimeout:  defaultProbeTimeout,
		Sentinel:      frame.DefaultSentinel,
		Probe:         true,
		Logger:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
