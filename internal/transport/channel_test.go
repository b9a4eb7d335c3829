package transport

import (
	"errors"
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"rasim/internal/timestamps"
	"testing"
	"time"
)

var (
	_ Channel = (*DelayedChannel)(nil)
	_ Channel = (*VirtualChannel)(nil)
	_ Channel = (*MockChannel)(nil)
)

func newLogger() *logging.Logger {
	return logging.NewDiscardLogger("transport")
}

func request(seqnum uint32, from mutex.Pid) mutex.Message {
	return mutex.Message{Kind: mutex.Request, TS: timestamps.Timestamp{Seqnum: seqnum, Pid: from}}
}

func TestUniformDelayStaysInBounds(t *testing.T) {
	d, err := NewUniformDelay(time.Second, 2*time.Second, 42)
	if err != nil {
		t.Fatal("Unexpected error:", err)
	}

	for i := 0; i < 1000; i++ {
		if v := d.Next(); v < time.Second || v > 2*time.Second {
			t.Fatalf("Delay %v out of [1s, 2s]", v)
		}
	}
}

func TestUniformDelayIsReproducible(t *testing.T) {
	a, _ := NewUniformDelay(time.Millisecond, time.Second, 7)
	b, _ := NewUniformDelay(time.Millisecond, time.Second, 7)

	for i := 0; i < 100; i++ {
		if x, y := a.Next(), b.Next(); x != y {
			t.Fatalf("Draw %d differs for the same seed: %v and %v", i, x, y)
		}
	}
}

func TestUniformDelayRejectsInvalidBounds(t *testing.T) {
	tests := []struct {
		name     string
		min, max time.Duration
	}{
		{"zero_min", 0, time.Second},
		{"negative_min", -time.Second, time.Second},
		{"max_below_min", 2 * time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewUniformDelay(tt.min, tt.max, 1); err == nil {
				t.Errorf("Expected an error for [%v, %v]", tt.min, tt.max)
			}
		})
	}
}

func TestMockChannelInterceptsSentMessages(t *testing.T) {
	m := NewMockChannel(2)
	m.Send(0, 1, request(1, 0))
	m.Send(0, 2, request(1, 0))

	for _, to := range []mutex.Pid{1, 2} {
		env := m.InterceptSentMessage()
		if env.From != 0 || env.To != to || env.Message != request(1, 0) {
			t.Errorf("Unexpected envelope %v", env)
		}
	}
	m.Close()
}

func TestDelayedChannelDeliversToInbox(t *testing.T) {
	c := NewDelayedChannel(newLogger(), 3, FixedDelay(10*time.Millisecond))
	defer c.Close()

	msg := request(4, 2)
	c.Send(2, 0, msg)

	select {
	case env := <-c.Inbox(0):
		if env.From != 2 || env.To != 0 || env.Message != msg {
			t.Errorf("Unexpected envelope %v", env)
		}
		if env.Delay != 10*time.Millisecond {
			t.Errorf("Expected delay of 10ms, got %v", env.Delay)
		}
	case <-time.After(time.Second):
		t.Fatal("Message was not delivered")
	}

	stats := c.Stats()
	if stats.Sent != 1 || stats.Delivered != 1 || stats.InFlight != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.AverageLatency < 10*time.Millisecond {
		t.Errorf("Latency %v is shorter than the delay", stats.AverageLatency)
	}
}

func TestDelayedChannelDoesNotDeliverEarly(t *testing.T) {
	c := NewDelayedChannel(newLogger(), 2, FixedDelay(200*time.Millisecond))
	defer c.Close()

	c.Send(0, 1, request(1, 0))

	select {
	case env := <-c.Inbox(1):
		t.Fatalf("Envelope %v delivered before its delay", env)
	case <-time.After(50 * time.Millisecond):
	}
	if s := c.Stats(); s.InFlight != 1 {
		t.Errorf("Expected one message in flight, got %+v", s)
	}
}

func TestDelayedChannelCloseDropsPendingMessages(t *testing.T) {
	c := NewDelayedChannel(newLogger(), 2, FixedDelay(time.Hour))
	c.Send(0, 1, request(1, 0))
	c.Close()

	if _, ok := <-c.Inbox(1); ok {
		t.Error("Expected the inbox to be closed without any message")
	}

	// Sending after close is dropped.
	c.Send(1, 0, request(1, 1))
	if s := c.Stats(); s.Sent != 1 || s.InFlight != 0 {
		t.Errorf("Unexpected stats after close %+v", s)
	}
}

type recordingReceiver struct {
	pid      mutex.Pid
	received *[]mutex.Pid
	onRecv   func(mutex.Message)
	err      error
}

func (r recordingReceiver) Receive(msg mutex.Message) error {
	*r.received = append(*r.received, r.pid)
	if r.onRecv != nil {
		r.onRecv(msg)
	}
	return r.err
}

func TestVirtualChannelDeliversByDueTime(t *testing.T) {
	delays := []time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	i := 0
	c := NewVirtualChannel(newLogger(), policyFunc(func() time.Duration {
		d := delays[i]
		i++
		return d
	}))

	var order []mutex.Pid
	for pid := mutex.Pid(0); pid < 3; pid++ {
		c.Attach(pid, recordingReceiver{pid: pid, received: &order})
	}
	c.Send(1, 0, request(1, 1))
	c.Send(0, 1, request(1, 0))
	c.Send(0, 2, request(1, 0))

	if due, _ := c.NextDue(); !due.Equal(VirtualEpoch.Add(10 * time.Millisecond)) {
		t.Errorf("Expected the next delivery at 10ms, got %v", due.Sub(VirtualEpoch))
	}

	reached, err := c.RunUntil(func() bool { return false })
	if err != nil || reached {
		t.Fatalf("Unexpected result %v, %v", reached, err)
	}

	expected := []mutex.Pid{1, 2, 0}
	for j := range expected {
		if order[j] != expected[j] {
			t.Fatalf("Expected delivery order %v, got %v", expected, order)
		}
	}
	if got := c.Now().Sub(VirtualEpoch); got != 30*time.Millisecond {
		t.Errorf("Expected virtual time 30ms, got %v", got)
	}
}

func TestVirtualChannelBreaksTiesBySendOrder(t *testing.T) {
	c := NewVirtualChannel(newLogger(), FixedDelay(time.Second))

	var order []mutex.Pid
	for pid := mutex.Pid(0); pid < 4; pid++ {
		c.Attach(pid, recordingReceiver{pid: pid, received: &order})
	}
	for _, to := range []mutex.Pid{3, 1, 2, 0} {
		c.Send(0, to, request(1, 0))
	}
	if _, err := c.RunUntil(func() bool { return false }); err != nil {
		t.Fatal("Unexpected error:", err)
	}

	expected := []mutex.Pid{3, 1, 2, 0}
	for j := range expected {
		if order[j] != expected[j] {
			t.Fatalf("Expected delivery order %v, got %v", expected, order)
		}
	}
}

func TestVirtualChannelAcceptsSendsDuringDelivery(t *testing.T) {
	c := NewVirtualChannel(newLogger(), FixedDelay(time.Second))

	var order []mutex.Pid
	c.Attach(0, recordingReceiver{pid: 0, received: &order})
	c.Attach(1, recordingReceiver{pid: 1, received: &order, onRecv: func(msg mutex.Message) {
		c.Send(1, 0, mutex.Message{Kind: mutex.Reply, TS: timestamps.Timestamp{Seqnum: 2, Pid: 1}})
	}})

	c.Send(0, 1, request(1, 0))
	reached, err := c.RunUntil(func() bool { return len(order) == 2 })
	if err != nil || !reached {
		t.Fatalf("Unexpected result %v, %v", reached, err)
	}
	if c.Pending() != 0 || c.Now().Sub(VirtualEpoch) != 2*time.Second {
		t.Errorf("Unexpected channel state: %d pending at %v", c.Pending(), c.Now())
	}
	if s := c.Stats(); s.Sent != 2 || s.Delivered != 2 || s.AverageLatency != time.Second {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestVirtualChannelReportsDeliveryErrors(t *testing.T) {
	c := NewVirtualChannel(newLogger(), FixedDelay(time.Second))
	errBoom := errors.New("boom")

	var order []mutex.Pid
	c.Attach(1, recordingReceiver{pid: 1, received: &order, err: errBoom})

	c.Send(0, 1, request(1, 0))
	if _, _, err := c.Step(); !errors.Is(err, errBoom) {
		t.Errorf("Expected the receiver error, got %v", err)
	}

	c.Send(1, 5, request(1, 1))
	if _, ok, err := c.Step(); !ok || err == nil {
		t.Errorf("Expected an error for a destination without receiver, got %v", err)
	}
}

func TestVirtualChannelAdvanceNeverGoesBack(t *testing.T) {
	c := NewVirtualChannel(newLogger(), FixedDelay(time.Second))
	c.AdvanceTo(VirtualEpoch.Add(time.Minute))
	c.AdvanceTo(VirtualEpoch)

	if got := c.Now().Sub(VirtualEpoch); got != time.Minute {
		t.Errorf("Expected virtual time 1m, got %v", got)
	}
	if _, ok := c.NextDue(); ok {
		t.Error("Expected nothing in flight")
	}
}

type policyFunc func() time.Duration

func (f policyFunc) Next() time.Duration {
	return f()
}
