package rootshell

import "time"

// Validator inspects a failed attempt and may admit its exit code as a
// success. A code admitted this way is added to the Result's SuccessCodes.
type Validator func(attempt Attempt, code int, lines []string) bool

// ExecOptions holds resolved configuration for one execution.
type ExecOptions struct {
	// SuccessCodes decides which exit codes end the batch successfully.
	// The zero value admits only 0.
	SuccessCodes SuccessSet

	// LockTimeout bounds the wait for exclusive use of the session.
	// Zero means wait until the context is done.
	LockTimeout time.Duration

	// ReadTimeout bounds the wait for the reply of each attempt.
	// Zero means no timeout. A read timeout kills the session.
	ReadTimeout time.Duration

	// Validator, if set, is consulted for attempts whose exit code is
	// not in SuccessCodes.
	Validator Validator
}

// ExecOption configures one execution.
type ExecOption func(*ExecOptions)

// ResolveExecOptions applies functional options in order and returns the
// resolved config. Nil options are skipped.
func ResolveExecOptions(opts ...ExecOption) ExecOptions {
	var o ExecOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithSuccessCodes replaces the success set.
func WithSuccessCodes(codes ...int) ExecOption {
	return func(o *ExecOptions) {
		o.SuccessCodes = NewSuccessSet(codes...)
	}
}

// WithSuccessSet replaces the success set.
func WithSuccessSet(set SuccessSet) ExecOption {
	return func(o *ExecOptions) {
		o.SuccessCodes = set
	}
}

// WithLockTimeout bounds the wait for the execution lock.
func WithLockTimeout(d time.Duration) ExecOption {
	return func(o *ExecOptions) {
		o.LockTimeout = d
	}
}

// WithReadTimeout bounds the wait for each attempt's reply.
func WithReadTimeout(d time.Duration) ExecOption {
	return func(o *ExecOptions) {
		o.ReadTimeout = d
	}
}

// WithValidator installs a validator for failed attempts.
func WithValidator(v Validator) ExecOption {
	return func(o *ExecOptions) {
		o.Validator = v
	}
}
