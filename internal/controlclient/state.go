package controlclient

import "sync/atomic"

// State is one of the five connection states spec.md §3 defines.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRegistered
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateChangeHandler observes every successful transition.
type StateChangeHandler func(old, new State)

// stateHolder wraps an atomic State so setState can report whether the
// value actually changed, matching spec.md's "CAS-swaps the atomic state;
// if changed, the state-change handler is invoked" rule.
type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) load() State {
	return State(h.v.Load())
}

// set unconditionally stores new and returns the previous value along with
// whether it differs from new. Spec.md calls this a "CAS-swap" but since
// the client has exactly one writer of state at a time (the I/O goroutine),
// a plain store with before/after comparison is equivalent and simpler.
func (h *stateHolder) set(new State) (old State, changed bool) {
	old = State(h.v.Swap(int32(new)))
	return old, old != new
}
