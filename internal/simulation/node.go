package simulation

import (
	"context"
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"rasim/internal/transport"
	"time"
)

// HoldPolicy decides how long a process keeps the critical section once it entered it.
type HoldPolicy interface {
	Next() time.Duration
}

// node owns a process and is the only goroutine touching it.
type node struct {
	log     *logging.Logger
	process *mutex.Process
	inbox   <-chan transport.Envelope
	hold    HoldPolicy

	requests  chan chan error
	snapshots chan chan mutex.Snapshot
	done      chan struct{}

	// final is the snapshot taken when the loop exits. Only read once done is closed.
	final mutex.Snapshot
}

func newNode(logger *logging.Logger, process *mutex.Process, inbox <-chan transport.Envelope, hold HoldPolicy) *node {
	return &node{
		log:       logger,
		process:   process,
		inbox:     inbox,
		hold:      hold,
		requests:  make(chan chan error),
		snapshots: make(chan chan mutex.Snapshot),
		done:      make(chan struct{}),
	}
}

// request asks the process to compete for the critical section and returns the outcome of RequestCS.
func (n *node) request() error {
	reply := make(chan error, 1)
	select {
	case n.requests <- reply:
		return <-reply
	case <-n.done:
		return ErrStopped
	}
}

// snapshot returns the current state of the process, or its final state once the node stopped.
func (n *node) snapshot() mutex.Snapshot {
	reply := make(chan mutex.Snapshot, 1)
	select {
	case n.snapshots <- reply:
		return <-reply
	case <-n.done:
		return n.final
	}
}

/*
run is the main loop of the node, feeding the process with the commands of the driver and the messages of the channel.

Inner state:
  - release: Fires when the hold duration of the critical section elapses. Nil while the section is not held.

The loop reacts to four types of events:
  - Request: The driver asks the process to compete for the critical section.
  - Snapshot: A copy of the state of the process is requested.
  - Incoming message: A message is delivered by the channel, then handed to the process.
  - Release: The hold duration elapsed, the process exits the critical section.
*/
func (n *node) run(ctx context.Context) {
	var timer *time.Timer
	var release <-chan time.Time

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		n.final = n.process.Snapshot()
		close(n.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case reply := <-n.requests:
			reply <- n.process.RequestCS()
		case reply := <-n.snapshots:
			reply <- n.process.Snapshot()
		case env, ok := <-n.inbox:
			if !ok {
				n.log.Info("Inbox closed")
				return
			}
			if err := n.process.Receive(env.Message); err != nil {
				n.log.Errorf("Failed to handle %v: %v", env, err)
			}
		case <-release:
			timer, release = nil, nil
			if err := n.process.ExitCS(); err != nil {
				n.log.Errorf("Failed to release the critical section: %v", err)
			}
		}

		if release == nil && n.process.State() == mutex.InCS {
			d := n.hold.Next()
			n.log.Infof("Holding the critical section for %v", d)
			timer = time.NewTimer(d)
			release = timer.C
		}
	}
}
