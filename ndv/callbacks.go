package ndv

import (
	"strconv"
	"time"
)

// Callbacks are hooks into a session. Any of them may be nil.
type Callbacks struct {
	// OnConnect receives the server properties after a successful logon.
	OnConnect func(props *ServerProperties)

	// OnDisconnect is called once the connection is gone, with the error
	// that ended it or nil after Close.
	OnDisconnect func(err error)

	// OnProgress reports a running transfer: lines for sources, bytes for
	// binaries and messages for error message files. total is 0 while
	// unknown and rate is in units per second since the transfer began.
	OnProgress func(name string, transferred, total int64, rate float64)

	// OnTransferComplete is called after the server accepted or delivered
	// the whole object.
	OnTransferComplete func(name string, transferred int64, duration time.Duration)

	// OnTimeout decides whether an overdue reply is waited for again.
	OnTimeout func() bool

	// OnError receives failed operations by span name.
	OnError func(err error, op string)

	// OnEvent sees protocol events.
	OnEvent func(event Event)
}

// Event is a protocol event. Operation is the operation code that was
// active, or 0.
type Event struct {
	Type      EventType
	Message   string
	Operation int
	Timestamp time.Time
}

type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventCommit
	EventRetrievalStarted
	EventRetrievalEnded
	EventTransferStarted
	EventTransferComplete
	EventDebugSuspended
	EventError
)

var eventNames = [...]string{
	EventConnected:        "connected",
	EventDisconnected:     "disconnected",
	EventCommit:           "commit",
	EventRetrievalStarted: "retrieval-started",
	EventRetrievalEnded:   "retrieval-ended",
	EventTransferStarted:  "transfer-started",
	EventTransferComplete: "transfer-complete",
	EventDebugSuspended:   "debug-suspended",
	EventError:            "error",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "event(" + strconv.Itoa(int(t)) + ")"
}

func defaultCallbacks() *Callbacks {
	return mergeCallbacks(nil)
}

// mergeCallbacks replaces the nil hooks of cb with no-ops. An overdue
// reply fails by default.
func mergeCallbacks(cb *Callbacks) *Callbacks {
	var c Callbacks
	if cb != nil {
		c = *cb
	}
	if c.OnConnect == nil {
		c.OnConnect = func(*ServerProperties) {}
	}
	if c.OnDisconnect == nil {
		c.OnDisconnect = func(error) {}
	}
	if c.OnProgress == nil {
		c.OnProgress = func(string, int64, int64, float64) {}
	}
	if c.OnTransferComplete == nil {
		c.OnTransferComplete = func(string, int64, time.Duration) {}
	}
	if c.OnTimeout == nil {
		c.OnTimeout = func() bool { return false }
	}
	if c.OnError == nil {
		c.OnError = func(error, string) {}
	}
	if c.OnEvent == nil {
		c.OnEvent = func(Event) {}
	}
	return &c
}
