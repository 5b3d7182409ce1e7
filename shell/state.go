package shell

import "strconv"

// State is the connection state of a Supervisor.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Identity keys shared shells in a Registry.
type Identity struct {
	Name string
	Root bool
}

func (id Identity) String() string {
	if id.Root {
		return id.Name + ":root"
	}
	return id.Name + ":user"
}
