package simulation

import (
	"rasim/internal/mutex"
	"sync"
	"time"
)

const lastHoldersCount = 5

// StatsSnapshot is a copy of the aggregate statistics of a run. Durations are encoded in nanoseconds.
type StatsSnapshot struct {
	Requests          uint64
	CurrentRequests   int
	Entries           uint64
	MessagesSent      uint64
	MessagesDelivered uint64
	AverageLatency    time.Duration
	AverageWaiting    time.Duration
	// Most recent holder first.
	LastHolders []mutex.Pid
	Elapsed     time.Duration
}

// link identifies a message in flight. A process never has two messages of the same kind in flight to the same peer, since each one waits for an answer to the previous.
type link struct {
	from, to mutex.Pid
	kind     mutex.MessageKind
}

/*
Stats is an observer aggregating the statistics of a run.

  - Latency: from the send of a message to its receipt.
  - Waiting time: from the issue of a request to the entry in the critical section.

It is safe for concurrent use.
*/
type Stats struct {
	mu  sync.Mutex
	now func() time.Time

	start        time.Time
	requests     uint64
	current      int
	entries      uint64
	sent         uint64
	delivered    uint64
	totalLatency time.Duration
	totalWaiting time.Duration
	lastHolders  []mutex.Pid

	requestedAt map[mutex.Pid]time.Time
	sentAt      map[link]time.Time
}

// NewStats creates statistics starting now. now is the clock of the run.
func NewStats(now func() time.Time) *Stats {
	return &Stats{
		now:         now,
		start:       now(),
		requestedAt: make(map[mutex.Pid]time.Time),
		sentAt:      make(map[link]time.Time),
	}
}

func (s *Stats) Observe(e mutex.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	switch e.Kind {
	case mutex.RequestIssued:
		s.requests++
		s.current++
		s.requestedAt[e.Pid] = now
	case mutex.MessageSent:
		s.sent++
		s.sentAt[link{from: e.Pid, to: e.Peer, kind: e.Message.Kind}] = now
	case mutex.MessageReceived:
		s.delivered++
		key := link{from: e.Peer, to: e.Pid, kind: e.Message.Kind}
		if at, ok := s.sentAt[key]; ok {
			s.totalLatency += now.Sub(at)
			delete(s.sentAt, key)
		}
	case mutex.CSEntered:
		s.entries++
		if at, ok := s.requestedAt[e.Pid]; ok {
			s.totalWaiting += now.Sub(at)
			delete(s.requestedAt, e.Pid)
		}
		s.lastHolders = append([]mutex.Pid{e.Pid}, s.lastHolders...)
		if len(s.lastHolders) > lastHoldersCount {
			s.lastHolders = s.lastHolders[:lastHoldersCount]
		}
	case mutex.CSExited:
		s.current--
	}
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Requests:          s.requests,
		CurrentRequests:   s.current,
		Entries:           s.entries,
		MessagesSent:      s.sent,
		MessagesDelivered: s.delivered,
		LastHolders:       append([]mutex.Pid{}, s.lastHolders...),
		Elapsed:           s.now().Sub(s.start),
	}
	if s.delivered > 0 {
		snap.AverageLatency = s.totalLatency / time.Duration(s.delivered)
	}
	if s.entries > 0 {
		snap.AverageWaiting = s.totalWaiting / time.Duration(s.entries)
	}
	return snap
}
