package rootshell

import (
	"errors"
	"strconv"
)

// Sentinel errors for shell operations.
var (
	// ErrSpawn indicates the shell process could not be started or failed
	// its startup probe (binary missing, su denied, uid mismatch).
	ErrSpawn = errors.New("rootshell: spawn failed")

	// ErrProtocolDesync indicates the reply stream stopped making sense:
	// the process closed its output or an I/O error occurred before the
	// closing sentinel was seen. The session is no longer usable.
	ErrProtocolDesync = errors.New("rootshell: protocol desynchronized")

	// ErrTimeout indicates a bounded wait expired, either for the
	// execution lock or for the reply of an attempt.
	ErrTimeout = errors.New("rootshell: timed out")

	// ErrConnectionLost indicates the session died and the single
	// reconnect attempt also failed.
	ErrConnectionLost = errors.New("rootshell: connection lost")

	// ErrClosed indicates the shell or scheduler has been closed.
	ErrClosed = errors.New("rootshell: closed")

	// ErrInvalidAttempt indicates an empty batch, an empty attempt, or an
	// attempt whose lines cannot be framed safely.
	ErrInvalidAttempt = errors.New("rootshell: invalid attempt")
)

// BatchError reports which attempt of a batch failed at the protocol
// level. Err carries the cause (ErrTimeout, ErrProtocolDesync, ...) so
// errors.Is works through it.
type BatchError struct {
	Attempt int
	Err     error
}

func (e *BatchError) Error() string {
	if e.Err == nil {
		return "rootshell: attempt " + strconv.Itoa(e.Attempt) + " failed"
	}
	return "rootshell: attempt " + strconv.Itoa(e.Attempt) + ": " + e.Err.Error()
}

func (e *BatchError) Unwrap() error { return e.Err }

// FailedAttempt extracts the attempt index from an error chain containing
// *BatchError. Returns (0, false) if the error does not contain one.
func FailedAttempt(err error) (int, bool) {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Attempt, true
	}
	return 0, false
}
