package mutex

import (
	"fmt"
	"rasim/internal/lamport"
	"rasim/internal/logging"
	"rasim/internal/utils/option"
	"slices"
	"sort"
)

// State is the protocol state of a process.
type State int

const (
	// Idle processes do not compete for the critical section.
	Idle State = iota
	// Requesting processes have broadcast a request and are collecting replies.
	Requesting
	// InCS processes hold the critical section.
	InCS
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Requesting:
		return "REQUESTING"
	case InCS:
		return "IN_CS"
	default:
		return "INVALID"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

/*
Process is one participant of the Ricart-Agrawala algorithm.

A Process is a sequential state machine and is not safe for concurrent use: RequestCS, Receive and ExitCS must be called by a single goroutine, one call at a time. None of them blocks; waiting for the critical section shows up as the Requesting state.

Inner state:
  - clock: The Lamport clock of the process.
  - requesting: Set from RequestCS until ExitCS, so it stays set while the section is held.
  - requestTS: The timestamp of the outstanding request. Present iff requesting.
  - pendingReplies: The processes that replied to the outstanding request.
  - deferred: The processes whose request will be answered on exit, in arrival order.
  - inCS: Whether the process holds the critical section.
*/
type Process struct {
	log      *logging.Logger
	sender   Sender
	observer Observer

	self  Pid
	n     int
	peers []Pid

	clock          lamport.Clock
	requesting     bool
	requestTS      option.Option[timestamp]
	pendingReplies map[Pid]struct{}
	deferred       []Pid
	inCS           bool
	entries        uint64
}

/*
NewProcess constructs and returns a new idle process with its clock at 0.

Parameters:
  - logger: The logger to use for logging messages.
  - sender: The channel the process emits its messages through.
  - self: The pid of the process, in 0..n-1.
  - n: The number of processes in the system, fixed for the lifetime of the process.
  - observer: Notified of every state change. May be nil.
*/
func NewProcess(logger *logging.Logger, sender Sender, self Pid, n int, observer Observer) *Process {
	if n < 1 || self < 0 || int(self) >= n {
		panic(fmt.Sprintf("invalid process %v in a system of %d processes", self, n))
	}
	if observer == nil {
		observer = Observers{}
	}

	peers := make([]Pid, 0, n-1)
	for i := 0; i < n; i++ {
		if Pid(i) != self {
			peers = append(peers, Pid(i))
		}
	}

	return &Process{
		log:            logger,
		sender:         sender,
		observer:       observer,
		self:           self,
		n:              n,
		peers:          peers,
		requestTS:      option.None[timestamp](),
		pendingReplies: make(map[Pid]struct{}),
	}
}

// ID returns the pid of the process.
func (p *Process) ID() Pid {
	return p.self
}

// State returns the protocol state of the process.
func (p *Process) State() State {
	switch {
	case p.inCS:
		return InCS
	case p.requesting:
		return Requesting
	default:
		return Idle
	}
}

/*
RequestCS starts competing for the critical section: the clock is incremented, the new value becomes the request timestamp and a REQUEST carrying it is sent to every other process.

Only allowed while idle. In a system of a single process the section is entered immediately.
*/
func (p *Process) RequestCS() error {
	if p.requesting {
		return fmt.Errorf("%w: %v cannot request the critical section while %v", ErrProtocolViolation, p.self, p.State())
	}

	ts := p.clock.Tick().Stamp(p.self)
	p.requestTS = option.Some(ts)
	p.requesting = true
	clear(p.pendingReplies)

	msg := Message{Kind: Request, TS: ts}
	p.log.Infof("Requesting the critical section with %v", ts)
	p.emit(RequestIssued, NoPeer, msg)
	for _, peer := range p.peers {
		p.send(peer, msg)
	}

	if len(p.peers) == 0 {
		p.enterCS()
	}
	return nil
}

/*
Receive handles a message delivered by the channel.

Messages of an unknown kind or from an unknown source are rejected without any state change. Otherwise the clock witnesses the message timestamp before the message is handled according to its kind.
*/
func (p *Process) Receive(msg Message) error {
	if !msg.Kind.Valid() {
		return fmt.Errorf("%w: %v received %v", ErrUnknownMessageKind, p.self, msg)
	}
	sender := msg.Source()
	if sender < 0 || int(sender) >= p.n || sender == p.self {
		return fmt.Errorf("%w: %v received %v from %v", ErrUnknownSender, p.self, msg.Kind, sender)
	}

	p.clock.Witness(lamport.Time(msg.TS.Seqnum))
	p.emit(MessageReceived, sender, msg)

	switch msg.Kind {
	case Request:
		p.handleRequest(msg)
	case Reply:
		p.handleReply(msg)
	}
	return nil
}

// handleRequest answers a request right away, unless our own request has priority over it, in which case the answer is deferred until ExitCS.
func (p *Process) handleRequest(msg Message) {
	sender := msg.Source()

	if !p.requesting {
		p.log.Infof("Replying to %v: not competing", msg)
		p.reply(sender)
		return
	}

	own := p.requestTS.Get()
	if msg.TS.LessThan(own) {
		p.log.Infof("Replying to %v: it has priority over our %v", msg, own)
		p.reply(sender)
		return
	}

	if slices.Contains(p.deferred, sender) {
		// A process has at most one outstanding request, so this is a duplicate delivery.
		p.log.Warnf("Ignoring %v: a request of %v is already deferred", msg, sender)
		return
	}

	p.log.Infof("Deferring reply to %v: our %v has priority", msg, own)
	p.deferred = append(p.deferred, sender)
	p.emit(ReplyDeferred, sender, msg)
}

// handleReply collects a reply for the outstanding request and enters the critical section once every other process replied.
func (p *Process) handleReply(msg Message) {
	sender := msg.Source()

	if !p.requesting || p.inCS {
		p.log.Warnf("Ignoring %v: no request is waiting for replies", msg)
		p.emit(ReplyIgnored, sender, msg)
		return
	}

	// A reply to the outstanding request was sent after its sender witnessed that request, so it must be stamped later.
	own := p.requestTS.Get()
	if msg.TS.Seqnum <= own.Seqnum {
		p.log.Warnf("Ignoring %v: stale for our %v", msg, own)
		p.emit(ReplyIgnored, sender, msg)
		return
	}

	p.pendingReplies[sender] = struct{}{}
	p.log.Infof("Received reply from %v (%d/%d)", sender, len(p.pendingReplies), len(p.peers))

	if len(p.pendingReplies) == len(p.peers) {
		p.enterCS()
	}
}

// enterCS marks the critical section as held. No message is sent.
func (p *Process) enterCS() {
	p.inCS = true
	p.entries++
	p.log.Infof("Entered the critical section (request %v)", p.requestTS.Get())
	p.emit(CSEntered, NoPeer, Message{})
}

/*
ExitCS releases the critical section and answers every deferred request, in the order the requests arrived.

Only allowed while holding the section.
*/
func (p *Process) ExitCS() error {
	if !p.inCS {
		return fmt.Errorf("%w: %v cannot exit the critical section while %v", ErrProtocolViolation, p.self, p.State())
	}

	p.requesting = false
	p.requestTS = option.None[timestamp]()
	p.inCS = false
	p.log.Info("Exited the critical section")
	p.emit(CSExited, NoPeer, Message{})

	deferred := p.deferred
	p.deferred = nil
	if len(deferred) == 0 {
		return nil
	}

	ts := p.clock.Tick().Stamp(p.self)
	for _, pid := range deferred {
		p.log.Infof("Sending deferred reply to %v", pid)
		p.send(pid, Message{Kind: Reply, TS: ts})
	}
	return nil
}

// reply answers a request immediately, stamped with the clock value of its receipt.
func (p *Process) reply(to Pid) {
	p.send(to, Message{Kind: Reply, TS: p.clock.Now().Stamp(p.self)})
}

func (p *Process) send(to Pid, msg Message) {
	p.emit(MessageSent, to, msg)
	p.sender.Send(p.self, to, msg)
}

func (p *Process) emit(kind EventKind, peer Pid, msg Message) {
	p.observer.Observe(Event{
		Kind:    kind,
		Pid:     p.self,
		Peer:    peer,
		Clock:   uint32(p.clock.Now()),
		Message: msg,
	})
}

// Snapshot is a read-only copy of the state of a process.
type Snapshot struct {
	ID                 Pid
	Clock              uint32
	State              State
	Requesting         bool
	InCriticalSection  bool
	RequestTimestamp   option.Option[timestamp]
	PendingReplies     int
	Repliers           []Pid
	DeferredRequesters []Pid
	Entries            uint64
}

// Snapshot copies the observable state of the process. Like every other method, it must be called by the goroutine owning the process.
func (p *Process) Snapshot() Snapshot {
	repliers := make([]Pid, 0, len(p.pendingReplies))
	for pid := range p.pendingReplies {
		repliers = append(repliers, pid)
	}
	sort.Slice(repliers, func(i, j int) bool { return repliers[i] < repliers[j] })

	deferred := make([]Pid, len(p.deferred))
	copy(deferred, p.deferred)

	return Snapshot{
		ID:                 p.self,
		Clock:              uint32(p.clock.Now()),
		State:              p.State(),
		Requesting:         p.requesting,
		InCriticalSection:  p.inCS,
		RequestTimestamp:   p.requestTS,
		PendingReplies:     len(p.pendingReplies),
		Repliers:           repliers,
		DeferredRequesters: deferred,
		Entries:            p.entries,
	}
}
