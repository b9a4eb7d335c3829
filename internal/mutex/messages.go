package mutex

import (
	"encoding/json"
	"fmt"
)

// MessageKind enumerates the messages of the Ricart-Agrawala protocol.
type MessageKind int

const (
	// Request asks every other process for permission to enter the critical section.
	Request MessageKind = iota + 1
	// Reply grants the permission asked by a Request.
	Reply
)

func (k MessageKind) String() string {
	switch k {
	case Request:
		return "REQUEST"
	case Reply:
		return "REPLY"
	default:
		return fmt.Sprintf("INVALID(%d)", int(k))
	}
}

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	return k == Request || k == Reply
}

// MarshalJSON encodes the kind by name.
func (k MessageKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind encoded by MarshalJSON.
func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "REQUEST":
		*k = Request
	case "REPLY":
		*k = Reply
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageKind, name)
	}
	return nil
}

// Message is the immutable value exchanged by processes.
//
// TS holds the sender's clock at send time together with the sender's pid, so the source of a message is TS.Pid.
type Message struct {
	Kind MessageKind
	TS   timestamp
}

// Source returns the pid of the process that sent the message.
func (m Message) Source() Pid {
	return m.TS.Pid
}

func (m Message) String() string {
	return fmt.Sprintf("%s%v", m.Kind, m.TS)
}
