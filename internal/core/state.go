package core

import "fmt"

// State is the session lifecycle position.
type State int

const (
	// StateIdle is the state before the first connection attempt.
	StateIdle State = iota
	// StateConnecting waits for the transport to report spawned.
	StateConnecting
	// StateAwaitingAuth has sent (or scheduled) register/login commands.
	StateAwaitingAuth
	// StateActive means authentication bookkeeping has resolved.
	StateActive
	// StateDisconnected is entered when a handle ends; it is left immediately.
	StateDisconnected
	// StateBackoff waits for a reconnect timer.
	StateBackoff
	// StateShuttingDown is absorbing.
	StateShuttingDown
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateAwaitingAuth: "awaiting_auth",
	StateActive:       "active",
	StateDisconnected: "disconnected",
	StateBackoff:      "backoff",
	StateShuttingDown: "shutting_down",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}
