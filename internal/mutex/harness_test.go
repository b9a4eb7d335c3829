package mutex

import (
	"math/rand"
	"rasim/internal/logging"
	"testing"
)

type sentMessage struct {
	From    Pid
	To      Pid
	Message Message
}

// recordingSender keeps every sent message, in order, for the test to deliver by hand.
type recordingSender struct {
	inFlight []sentMessage
}

func (s *recordingSender) Send(from, to Pid, msg Message) {
	s.inFlight = append(s.inFlight, sentMessage{From: from, To: to, Message: msg})
}

// testNetwork is a closed system of processes sharing a recordingSender. Nothing is delivered unless the test asks for it.
type testNetwork struct {
	t         *testing.T
	sender    *recordingSender
	processes []*Process
	events    []Event
}

func newTestNetwork(t *testing.T, n int) *testNetwork {
	net := &testNetwork{t: t, sender: &recordingSender{}}
	observer := ObserverFunc(func(e Event) { net.events = append(net.events, e) })
	for i := 0; i < n; i++ {
		net.processes = append(net.processes, NewProcess(newLogger(), net.sender, Pid(i), n, observer))
	}
	return net
}

func newLogger() *logging.Logger {
	return logging.NewDiscardLogger("test")
}

func (net *testNetwork) p(pid Pid) *Process {
	return net.processes[pid]
}

// take removes and returns the in-flight message matching the given endpoints and kind. Fails the test if there is none.
func (net *testNetwork) take(from, to Pid, kind MessageKind) sentMessage {
	net.t.Helper()
	for i, m := range net.sender.inFlight {
		if m.From == from && m.To == to && m.Message.Kind == kind {
			net.sender.inFlight = append(net.sender.inFlight[:i], net.sender.inFlight[i+1:]...)
			return m
		}
	}
	net.t.Fatalf("No %v in flight from %v to %v. In flight: %v", kind, from, to, net.sender.inFlight)
	return sentMessage{}
}

func (net *testNetwork) hasInFlight(from, to Pid, kind MessageKind) bool {
	for _, m := range net.sender.inFlight {
		if m.From == from && m.To == to && m.Message.Kind == kind {
			return true
		}
	}
	return false
}

// deliver takes the matching in-flight message and hands it to its destination.
func (net *testNetwork) deliver(from, to Pid, kind MessageKind) sentMessage {
	net.t.Helper()
	m := net.take(from, to, kind)
	if err := net.p(to).Receive(m.Message); err != nil {
		net.t.Fatalf("Unexpected error delivering %v to %v: %v", m.Message, to, err)
	}
	return m
}

// deliverAt hands the i-th in-flight message to its destination.
func (net *testNetwork) deliverAt(i int) {
	net.t.Helper()
	m := net.sender.inFlight[i]
	net.sender.inFlight = append(net.sender.inFlight[:i], net.sender.inFlight[i+1:]...)
	if err := net.p(m.To).Receive(m.Message); err != nil {
		net.t.Fatalf("Unexpected error delivering %v to %v: %v", m.Message, m.To, err)
	}
}

func (net *testNetwork) expectInFlight(count int) {
	net.t.Helper()
	if len(net.sender.inFlight) != count {
		net.t.Fatalf("Expected %d messages in flight, got %v", count, net.sender.inFlight)
	}
}

func (net *testNetwork) expectState(pid Pid, state State) {
	net.t.Helper()
	if s := net.p(pid).State(); s != state {
		net.t.Fatalf("Expected %v to be %v, got %v", pid, state, s)
	}
}

func (net *testNetwork) holders() []Pid {
	var holders []Pid
	for _, p := range net.processes {
		if p.Snapshot().InCriticalSection {
			holders = append(holders, p.ID())
		}
	}
	return holders
}

// randomRun drives the network with random requests, exits and deliveries, checking safety after every step.
// Once steps are exhausted, no new request is issued and the run continues until every process is idle and nothing is in flight.
type randomRun struct {
	net        *testNetwork
	rng        *rand.Rand
	lastClocks []uint32
	requests   int
	entries    int
}

func newRandomRun(t *testing.T, n int, seed int64) *randomRun {
	return &randomRun{
		net:        newTestNetwork(t, n),
		rng:        rand.New(rand.NewSource(seed)),
		lastClocks: make([]uint32, n),
	}
}

func (r *randomRun) check() {
	t := r.net.t
	t.Helper()

	if holders := r.net.holders(); len(holders) > 1 {
		t.Fatalf("Mutual exclusion violated: %v hold the critical section", holders)
	}
	for i, p := range r.net.processes {
		s := p.Snapshot()
		if s.Clock < r.lastClocks[i] {
			t.Fatalf("Clock of %v went back from %d to %d", p.ID(), r.lastClocks[i], s.Clock)
		}
		r.lastClocks[i] = s.Clock
		if s.Requesting != s.RequestTimestamp.IsSome() {
			t.Fatalf("%v: requesting=%v but request timestamp %v", p.ID(), s.Requesting, s.RequestTimestamp)
		}
		if s.InCriticalSection && s.PendingReplies != len(r.net.processes)-1 {
			t.Fatalf("%v entered with %d replies", p.ID(), s.PendingReplies)
		}
	}
}

func (r *randomRun) step(allowRequests bool) bool {
	t := r.net.t
	t.Helper()

	var actions []func()
	for _, p := range r.net.processes {
		p := p
		switch p.State() {
		case Idle:
			if allowRequests {
				actions = append(actions, func() {
					if err := p.RequestCS(); err != nil {
						t.Fatalf("Unexpected error requesting: %v", err)
					}
					r.requests++
				})
			}
		case InCS:
			actions = append(actions, func() {
				if err := p.ExitCS(); err != nil {
					t.Fatalf("Unexpected error exiting: %v", err)
				}
				r.entries++
			})
		}
	}
	for i := range r.net.sender.inFlight {
		i := i
		// Deliveries are weighted so that messages overtake each other often.
		actions = append(actions, func() { r.net.deliverAt(i) }, func() { r.net.deliverAt(i) })
	}

	if len(actions) == 0 {
		return false
	}
	actions[r.rng.Intn(len(actions))]()
	r.check()
	return true
}
