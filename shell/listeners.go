package shell

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmora/rootshell"
)

// listenerSet fans events out to registered listeners. Callbacks run
// outside the lock and a panicking listener is logged, not propagated.
type listenerSet struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]rootshell.Listener
	order  []int
	logger *slog.Logger
}

func newListenerSet(logger *slog.Logger, initial []rootshell.Listener) *listenerSet {
	ls := &listenerSet{byID: make(map[int]rootshell.Listener), logger: logger}
	for _, l := range initial {
		ls.add(l)
	}
	return ls
}

// add registers l and returns a function that removes it again.
func (ls *listenerSet) add(l rootshell.Listener) func() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	id := ls.nextID
	ls.nextID++
	ls.byID[id] = l
	ls.order = append(ls.order, id)
	var once sync.Once
	return func() { once.Do(func() { ls.remove(id) }) }
}

func (ls *listenerSet) remove(id int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.byID, id)
	for i, v := range ls.order {
		if v == id {
			ls.order = append(ls.order[:i], ls.order[i+1:]...)
			break
		}
	}
}

func (ls *listenerSet) snapshot() []rootshell.Listener {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]rootshell.Listener, 0, len(ls.order))
	for _, id := range ls.order {
		out = append(out, ls.byID[id])
	}
	return out
}

func (ls *listenerSet) connected() {
	for _, l := range ls.snapshot() {
		ls.call("OnConnected", func() { l.OnConnected() })
	}
}

func (ls *listenerSet) disconnected(err error) {
	for _, l := range ls.snapshot() {
		ls.call("OnDisconnected", func() { l.OnDisconnected(err) })
	}
}

func (ls *listenerSet) commandResult(res rootshell.Result) {
	for _, l := range ls.snapshot() {
		ls.call("OnCommandResult", func() { l.OnCommandResult(res) })
	}
}

func (ls *listenerSet) call(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			ls.logger.Error("listener panicked", "event", event, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
