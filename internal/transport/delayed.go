package transport

import (
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"rasim/internal/utils"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChannelStats are the counters of a DelayedChannel.
type ChannelStats struct {
	Sent           uint64
	Delivered      uint64
	InFlight       int
	AverageLatency time.Duration
}

/*
DelayedChannel delivers messages in wall-clock time, each one after a delay drawn from its policy.

Delivered envelopes are pushed into the inbox of their destination. Each inbox is meant to be drained by a single goroutine, which serializes the deliveries to a process.
*/
type DelayedChannel struct {
	log   *logging.Logger
	delay DelayPolicy

	inboxes []*utils.BufferedChan[Envelope]

	mu           sync.Mutex
	closed       bool
	timers       map[uuid.UUID]*time.Timer
	sent         uint64
	delivered    uint64
	totalLatency time.Duration
}

/*
NewDelayedChannel constructs a channel connecting n processes.

Parameters:
  - logger: The logger to use for logging messages.
  - n: The number of processes, addressed 0..n-1.
  - delay: The policy drawing the delay of each message.
*/
func NewDelayedChannel(logger *logging.Logger, n int, delay DelayPolicy) *DelayedChannel {
	inboxes := make([]*utils.BufferedChan[Envelope], n)
	for i := range inboxes {
		inboxes[i] = utils.NewBufferedChan[Envelope]()
	}

	return &DelayedChannel{
		log:     logger,
		delay:   delay,
		inboxes: inboxes,
		timers:  make(map[uuid.UUID]*time.Timer),
	}
}

// Inbox returns the channel on which the envelopes destined to pid come out, in delivery order. It is closed when the channel is.
func (c *DelayedChannel) Inbox(pid mutex.Pid) <-chan Envelope {
	return c.inboxes[pid].Outlet()
}

func (c *DelayedChannel) Send(from, to mutex.Pid, msg mutex.Message) {
	if int(to) < 0 || int(to) >= len(c.inboxes) {
		c.log.Errorf("Dropping %v from %v: no process %v", msg, from, to)
		return
	}

	env := newEnvelope(from, to, msg, time.Now(), c.delay.Next())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.log.Warnf("Dropping %v: channel closed", env)
		return
	}

	c.sent++
	c.timers[env.ID] = time.AfterFunc(env.Delay, func() { c.deliver(env) })
}

// deliver runs on the timer goroutine of env.
func (c *DelayedChannel) deliver(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	delete(c.timers, env.ID)
	c.delivered++
	c.totalLatency += time.Since(env.SentAt)

	// reason: the inlet never blocks for long since the buffer goroutine always accepts new values
	c.inboxes[env.To].Inlet() <- env
}

// Stats returns a copy of the counters of the channel.
func (c *DelayedChannel) Stats() ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := ChannelStats{
		Sent:      c.sent,
		Delivered: c.delivered,
		InFlight:  len(c.timers),
	}
	if c.delivered > 0 {
		stats.AverageLatency = c.totalLatency / time.Duration(c.delivered)
	}
	return stats
}

// Close stops every pending delivery and closes the inboxes. Later sends are dropped.
func (c *DelayedChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.closed = true
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	for _, inbox := range c.inboxes {
		inbox.Close()
	}
	c.log.Infof("Channel closed after %d messages", c.sent)
}
