package core

// EventKind tags the inbound messages the session machine consumes.
type EventKind int

const (
	// EventSpawned means the session has fully entered the world.
	EventSpawned EventKind = iota
	// EventChat carries one inbound chat line.
	EventChat
	// EventTime is a world clock tick; Age is in ticks.
	EventTime
	// EventEnded means the connection closed.
	EventEnded
	// EventKicked means the server kicked the session; Reason is set.
	EventKicked
	// EventErrored means the transport failed; Err is set.
	EventErrored
	// EventTimer means a timer armed by the machine fired.
	EventTimer
	// EventShutdown is the external termination signal.
	EventShutdown
)

var eventNames = map[EventKind]string{
	EventSpawned:  "spawned",
	EventChat:     "chat",
	EventTime:     "time",
	EventEnded:    "ended",
	EventKicked:   "kicked",
	EventErrored:  "errored",
	EventTimer:    "timer",
	EventShutdown: "shutdown",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one inbound message. Transports leave Conn zero; the controller stamps the
// generation of the handle the event came from.
type Event struct {
	Kind   EventKind
	Conn   uint64
	Text   string
	Reason string
	Err    error
	Age    int64
	Timer  TimerID
}

// Terminal reports whether the event ends the connection it belongs to.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventEnded, EventKicked, EventErrored:
		return true
	}
	return false
}
