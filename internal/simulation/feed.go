package simulation

import (
	"rasim/internal/mutex"
	"sync"
	"time"
)

const subscriberBuffer = 256

// TimedEvent is an event of a process stamped with the time of the run at which it happened.
type TimedEvent struct {
	Time time.Time
	mutex.Event
}

// Feed is an observer forwarding events to subscribers. A subscriber that does not keep up loses events rather than slowing the processes down.
type Feed struct {
	now func() time.Time

	mu      sync.Mutex
	nextID  int
	subs    map[int]chan TimedEvent
	dropped uint64
}

// NewFeed creates a feed without subscribers.
func NewFeed(now func() time.Time) *Feed {
	return &Feed{
		now:  now,
		subs: make(map[int]chan TimedEvent),
	}
}

func (f *Feed) Observe(e mutex.Event) {
	te := TimedEvent{Time: f.now(), Event: e}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		select {
		case sub <- te:
		default:
			f.dropped++
		}
	}
}

// Subscribe registers a new subscriber. The returned function unsubscribes and closes the channel.
func (f *Feed) Subscribe() (<-chan TimedEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan TimedEvent, subscriberBuffer)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

// Dropped returns the number of events lost by slow subscribers.
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
