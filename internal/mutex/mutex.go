package mutex

import (
	"rasim/internal/timestamps"
)

// Pid is a unique identifier for a process participating in the mutex algorithm.
type Pid = timestamps.Pid
type timestamp = timestamps.Timestamp

// NoPeer is used in events that do not involve a second process.
const NoPeer Pid = -1

/*
Sender is the capability a process uses to emit protocol messages.

Implementations must eventually hand the message to the destination's Receive exactly once, after a strictly positive delay. No ordering is required, neither globally nor per pair of processes.
*/
type Sender interface {
	Send(from, to Pid, msg Message)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(from, to Pid, msg Message)

// Send calls f(from, to, msg).
func (f SenderFunc) Send(from, to Pid, msg Message) {
	f(from, to, msg)
}
