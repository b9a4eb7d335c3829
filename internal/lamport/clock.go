// Package lamport implements the scalar logical clock of a process.
package lamport

import "rasim/internal/timestamps"

// Time is a value of a Lamport clock.
type Time uint32

// Stamp pairs t with the process that produced it, giving a totally ordered timestamp.
func (t Time) Stamp(pid timestamps.Pid) timestamps.Timestamp {
	return timestamps.Timestamp{Seqnum: uint32(t), Pid: pid}
}

/*
Clock is the logical clock of a single process. The zero value reads 0.

It belongs to the goroutine driving the process and is not safe for concurrent use. Its value never decreases.
*/
type Clock struct {
	now Time
}

// Now returns the current value without changing it.
func (c *Clock) Now() Time {
	return c.now
}

// Tick advances the clock before a local event that sends messages and returns the new value.
func (c *Clock) Tick() Time {
	c.now++
	return c.now
}

// Witness merges the timestamp of a received message: the clock becomes max(local, t) + 1.
func (c *Clock) Witness(t Time) Time {
	c.now = max(c.now, t) + 1
	return c.now
}
