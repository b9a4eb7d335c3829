package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"rasim/internal/transport"
	"sync"
	"time"
)

var (
	ErrUnknownProcess = errors.New("unknown process")
	ErrStopped        = errors.New("simulation stopped")
	ErrNotStarted     = errors.New("simulation not started")
)

/*
Simulation runs the processes in wall-clock time over a DelayedChannel.

Each process is owned by its own goroutine. A driver goroutine wakes up every tick and makes every idle process request the critical section with the configured probability. Once in the section, a process leaves it after a duration drawn by the hold policy.
*/
type Simulation struct {
	log  *logging.Logger
	conf *Config

	channel *transport.DelayedChannel
	nodes   []*node
	stats   *Stats
	safety  *SafetyMonitor
	feed    *Feed
	rng     *rand.Rand

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
}

/*
New constructs a simulation of conf.Processes idle processes. Nothing runs until Start is called.

Parameters:
  - logger: The logger to use for logging messages. Every process logs through it, with its pid as postfix.
  - conf: The configuration of the run.
  - observers: Extra observers notified of every event, from the goroutines of the processes.
*/
func New(logger *logging.Logger, conf *Config, observers ...mutex.Observer) (*Simulation, error) {
	delay, err := transport.NewUniformDelay(conf.MinDelay, conf.MaxDelay, conf.Seed)
	if err != nil {
		return nil, fmt.Errorf("message delay: %w", err)
	}
	hold, err := transport.NewUniformDelay(conf.MinHold, conf.MaxHold, conf.Seed+1)
	if err != nil {
		return nil, fmt.Errorf("hold duration: %w", err)
	}

	s := &Simulation{
		log:     logger,
		conf:    conf,
		channel: transport.NewDelayedChannel(logger.WithPostfix("net"), conf.Processes, delay),
		stats:   NewStats(time.Now),
		safety:  NewSafetyMonitor(logger.WithPostfix("safety"), time.Now),
		feed:    NewFeed(time.Now),
		rng:     rand.New(rand.NewSource(conf.Seed + 2)),
	}

	observer := append(mutex.Observers{s.stats, s.safety, s.feed}, observers...)
	for i := 0; i < conf.Processes; i++ {
		pid := mutex.Pid(i)
		plog := logger.WithPostfix(pid.String())
		if !conf.Debug {
			plog = plog.WithLogLevel(logging.WARN)
		}
		process := mutex.NewProcess(plog, s.channel, pid, conf.Processes, observer)
		s.nodes = append(s.nodes, newNode(plog, process, s.channel.Inbox(pid), hold))
	}

	return s, nil
}

// Start launches the processes and the request driver. The run ends when ctx is done, when the configured duration elapses, or on Stop.
func (s *Simulation) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	if s.conf.Duration > 0 {
		ctx, s.cancel = context.WithTimeout(ctx, s.conf.Duration)
	} else {
		ctx, s.cancel = context.WithCancel(ctx)
	}
	s.ctx = ctx

	s.log.Infof("Starting %d processes (seed %d)", len(s.nodes), s.conf.Seed)
	for _, n := range s.nodes {
		s.wg.Add(1)
		go func(n *node) {
			defer s.wg.Done()
			n.run(ctx)
		}(n)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drive(ctx)
	}()
}

// Done is closed when the run ends. Nil before Start.
func (s *Simulation) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Done()
}

// drive is the random request trigger. Each tick, every process gets a chance to request the critical section.
func (s *Simulation) drive(ctx context.Context) {
	ticker := time.NewTicker(s.conf.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, n := range s.nodes {
				if s.rng.Float64() >= s.conf.RequestProbability {
					continue
				}
				// reason: processes already competing reject the request, which is how they are skipped
				if err := n.request(); err != nil && !errors.Is(err, mutex.ErrProtocolViolation) && !errors.Is(err, ErrStopped) {
					s.log.Errorf("Failed to trigger a request: %v", err)
				}
			}
		}
	}
}

// Stop ends the run and waits for every goroutine to exit. Messages in flight are dropped.
func (s *Simulation) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.channel.Close()

	st := s.stats.Snapshot()
	s.log.Infof("Stopped after %v: %d requests, %d entries, %d messages", st.Elapsed, st.Requests, st.Entries, st.MessagesSent)
}

// N returns the number of processes.
func (s *Simulation) N() int {
	return len(s.nodes)
}

// Request makes pid compete for the critical section, as the random trigger does.
func (s *Simulation) Request(pid mutex.Pid) error {
	if pid < 0 || int(pid) >= len(s.nodes) {
		return fmt.Errorf("%w: %v", ErrUnknownProcess, pid)
	}
	if !s.isStarted() {
		return ErrNotStarted
	}
	return s.nodes[pid].request()
}

// Snapshots returns the state of every process, indexed by pid.
func (s *Simulation) Snapshots() []mutex.Snapshot {
	started := s.isStarted()
	snaps := make([]mutex.Snapshot, len(s.nodes))
	for i, n := range s.nodes {
		if started {
			snaps[i] = n.snapshot()
		} else {
			// reason: no goroutine owns the processes yet
			snaps[i] = n.process.Snapshot()
		}
	}
	return snaps
}

func (s *Simulation) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stats returns the aggregate statistics of the run.
func (s *Simulation) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// ChannelStats returns the counters of the message channel.
func (s *Simulation) ChannelStats() transport.ChannelStats {
	return s.channel.Stats()
}

// Violations returns the mutual exclusion violations observed so far.
func (s *Simulation) Violations() []Violation {
	return s.safety.Violations()
}

// Subscribe returns a live feed of the events of every process. The returned function ends the subscription.
func (s *Simulation) Subscribe() (<-chan TimedEvent, func()) {
	return s.feed.Subscribe()
}
