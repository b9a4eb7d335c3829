package transport

import (
	"fmt"
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"rasim/internal/utils"
	"time"

	"github.com/google/uuid"
)

// due orders pending envelopes by delivery time, then by send order.
type due struct {
	at  time.Time
	seq uint64
}

func (d due) before(other due) bool {
	if d.at.Equal(other.at) {
		return d.seq < other.seq
	}
	return d.at.Before(other.at)
}

/*
VirtualChannel is a discrete-event channel: time only moves when a message is delivered or when the caller advances it.

Nothing happens in the background. Step delivers the earliest pending message by calling the Receiver attached to its destination, on the caller's goroutine. A VirtualChannel is not safe for concurrent use, which also serializes every delivery.
*/
type VirtualChannel struct {
	log   *logging.Logger
	delay DelayPolicy

	now       time.Time
	seq       uint64
	pending   *utils.HeapMap[uuid.UUID, Envelope, due]
	receivers map[mutex.Pid]Receiver

	sent         uint64
	delivered    uint64
	totalLatency time.Duration
}

// VirtualEpoch is the instant at which every VirtualChannel starts.
var VirtualEpoch = time.Unix(0, 0).UTC()

// NewVirtualChannel constructs an empty channel at VirtualEpoch.
func NewVirtualChannel(logger *logging.Logger, delay DelayPolicy) *VirtualChannel {
	return &VirtualChannel{
		log:       logger,
		delay:     delay,
		now:       VirtualEpoch,
		pending:   utils.NewHeapMap[uuid.UUID, Envelope, due](func(a, b due) bool { return a.before(b) }),
		receivers: make(map[mutex.Pid]Receiver),
	}
}

// Attach registers the receiver of the messages destined to pid.
func (c *VirtualChannel) Attach(pid mutex.Pid, r Receiver) {
	c.receivers[pid] = r
}

// Now returns the current virtual time.
func (c *VirtualChannel) Now() time.Time {
	return c.now
}

func (c *VirtualChannel) Send(from, to mutex.Pid, msg mutex.Message) {
	env := newEnvelope(from, to, msg, c.now, c.delay.Next())
	c.seq++
	c.sent++
	c.pending.Push(env.ID, env, due{at: c.now.Add(env.Delay), seq: c.seq})
}

// Pending returns the number of messages in flight.
func (c *VirtualChannel) Pending() int {
	return c.pending.Len()
}

// NextDue returns the delivery time of the earliest pending message.
func (c *VirtualChannel) NextDue() (time.Time, bool) {
	top, ok := c.pending.Peek()
	if !ok {
		return time.Time{}, false
	}
	return top.Priority.at, true
}

// AdvanceTo moves the virtual clock forward to t without delivering anything. Moving backwards is a no-op.
func (c *VirtualChannel) AdvanceTo(t time.Time) {
	if t.After(c.now) {
		c.now = t
	}
}

/*
Step delivers the earliest pending message, moving virtual time to its delivery time.

Returns:
  - The delivered envelope, and whether there was one.
  - The error returned by the receiver, or an error if no receiver is attached to the destination.
*/
func (c *VirtualChannel) Step() (Envelope, bool, error) {
	entry, ok := c.pending.Pop()
	if !ok {
		return Envelope{}, false, nil
	}

	env := entry.Value
	c.AdvanceTo(entry.Priority.at)
	c.delivered++
	c.totalLatency += env.Delay

	r, ok := c.receivers[env.To]
	if !ok {
		return env, true, fmt.Errorf("no receiver attached to %v for %v", env.To, env)
	}
	if err := r.Receive(env.Message); err != nil {
		return env, true, fmt.Errorf("delivering %v: %w", env, err)
	}
	return env, true, nil
}

// RunUntil steps until done returns true or nothing is left in flight. Returns whether done was reached.
func (c *VirtualChannel) RunUntil(done func() bool) (bool, error) {
	for !done() {
		_, ok, err := c.Step()
		if err != nil {
			return false, err
		}
		if !ok {
			return done(), nil
		}
	}
	return true, nil
}

// Stats returns the counters of the channel. Latencies are in virtual time.
func (c *VirtualChannel) Stats() ChannelStats {
	stats := ChannelStats{
		Sent:      c.sent,
		Delivered: c.delivered,
		InFlight:  c.pending.Len(),
	}
	if c.delivered > 0 {
		stats.AverageLatency = c.totalLatency / time.Duration(c.delivered)
	}
	return stats
}

// Close drops every message in flight.
func (c *VirtualChannel) Close() {
	for c.pending.Len() > 0 {
		c.pending.Pop()
	}
	c.log.Infof("Virtual channel closed at %v after %d messages", c.now.Sub(VirtualEpoch), c.sent)
}
