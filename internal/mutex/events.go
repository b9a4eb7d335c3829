package mutex

import "fmt"

// EventKind enumerates the state changes a process reports to its observers.
type EventKind int

const (
	RequestIssued EventKind = iota + 1
	MessageSent
	MessageReceived
	ReplyDeferred
	ReplyIgnored
	CSEntered
	CSExited
)

func (k EventKind) String() string {
	switch k {
	case RequestIssued:
		return "request-issued"
	case MessageSent:
		return "message-sent"
	case MessageReceived:
		return "message-received"
	case ReplyDeferred:
		return "reply-deferred"
	case ReplyIgnored:
		return "reply-ignored"
	case CSEntered:
		return "cs-entered"
	case CSExited:
		return "cs-exited"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind encoded by MarshalText.
func (k *EventKind) UnmarshalText(text []byte) error {
	for kind := RequestIssued; kind <= CSExited; kind++ {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

/*
Event describes a state change of a process.

  - Pid: The process the event happened on.
  - Peer: The other end of a message, or the process whose reply was deferred. NoPeer otherwise.
  - Clock: The Lamport clock of Pid right after the event.
  - Message: The message involved, if any. Zero for CSEntered and CSExited.
*/
type Event struct {
	Kind    EventKind
	Pid     Pid
	Peer    Pid
	Clock   uint32
	Message Message
}

// Observer is notified synchronously of every event of the processes it is attached to.
//
// Observers run on the goroutine of the process; they must not call back into it.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Observers fans an event out to several observers, in order.
type Observers []Observer

// Observe forwards e to every observer.
func (o Observers) Observe(e Event) {
	for _, obs := range o {
		obs.Observe(e)
	}
}
