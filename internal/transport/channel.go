package transport

import (
	"fmt"
	"math/rand"
	"rasim/internal/mutex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel carries protocol messages between processes. Every sent message is handed to its destination exactly once, after a strictly positive delay. No ordering is guaranteed.
type Channel interface {
	mutex.Sender
	// Close stops the channel. Messages still in flight are dropped.
	Close()
}

// Receiver is the entry point of a process for delivered messages.
type Receiver interface {
	Receive(mutex.Message) error
}

// Envelope is a message in transit, together with its routing and timing information.
type Envelope struct {
	ID      uuid.UUID
	From    mutex.Pid
	To      mutex.Pid
	Message mutex.Message
	SentAt  time.Time
	Delay   time.Duration
}

func newEnvelope(from, to mutex.Pid, msg mutex.Message, sentAt time.Time, delay time.Duration) Envelope {
	return Envelope{
		ID:      uuid.New(),
		From:    from,
		To:      to,
		Message: msg,
		SentAt:  sentAt,
		Delay:   delay,
	}
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{%v -> %v, %v, delay %v}", e.From, e.To, e.Message, e.Delay)
}

// DelayPolicy decides how long each message stays in flight.
type DelayPolicy interface {
	// Next returns the delay of the next message. Always strictly positive.
	Next() time.Duration
}

// UniformDelay draws delays uniformly in [Min, Max]. It is safe for concurrent use.
type UniformDelay struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

/*
NewUniformDelay constructs a delay policy drawing in [min, max].

Parameters:
  - min: The shortest delay. Must be strictly positive.
  - max: The longest delay. Must not be smaller than min.
  - seed: Seed of the random source, so that runs can be replayed.
*/
func NewUniformDelay(min, max time.Duration, seed int64) (*UniformDelay, error) {
	if min <= 0 {
		return nil, fmt.Errorf("minimum delay must be positive, got %v", min)
	}
	if max < min {
		return nil, fmt.Errorf("maximum delay %v is smaller than minimum delay %v", max, min)
	}
	return &UniformDelay{min: min, max: max, rng: rand.New(rand.NewSource(seed))}, nil
}

func (u *UniformDelay) Next() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.min + time.Duration(u.rng.Int63n(int64(u.max-u.min)+1))
}

// FixedDelay delays every message by the same duration.
type FixedDelay time.Duration

func (d FixedDelay) Next() time.Duration {
	return time.Duration(d)
}
