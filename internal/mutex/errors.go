package mutex

import "errors"

// ErrProtocolViolation is returned when the driver calls an operation that is not allowed in the current state, such as requesting twice or exiting a section that is not held.
var ErrProtocolViolation = errors.New("protocol violation")

// ErrUnknownMessageKind is returned by Receive for messages that are neither REQUEST nor REPLY.
var ErrUnknownMessageKind = errors.New("unknown message kind")

// ErrUnknownSender is returned by Receive for messages whose source is not another process of the system.
var ErrUnknownSender = errors.New("unknown sender")
