package rootshell

// Listener receives connection and result notifications from a shell.
// Callbacks run on the goroutine that produced the event and must not
// block or call back into the shell synchronously.
type Listener interface {
	// OnConnected fires after a session is spawned and probed, both on
	// first connect and on every successful reconnect.
	OnConnected()

	// OnDisconnected fires when a live session is lost. err is nil for
	// a deliberate close.
	OnDisconnected(err error)

	// OnCommandResult fires after every completed batch, success or not.
	OnCommandResult(res Result)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are
// skipped.
type ListenerFuncs struct {
	Connected     func()
	Disconnected  func(err error)
	CommandResult func(res Result)
}

var _ Listener = ListenerFuncs{}

func (f ListenerFuncs) OnConnected() {
	if f.Connected != nil {
		f.Connected()
	}
}

func (f ListenerFuncs) OnDisconnected(err error) {
	if f.Disconnected != nil {
		f.Disconnected(err)
	}
}

func (f ListenerFuncs) OnCommandResult(res Result) {
	if f.CommandResult != nil {
		f.CommandResult(res)
	}
}
