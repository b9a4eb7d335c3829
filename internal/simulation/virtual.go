package simulation

import (
	"errors"
	"fmt"
	"math/rand"
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"rasim/internal/transport"
	"rasim/internal/utils"
	"time"
)

// VirtualResult summarizes a run in virtual time.
type VirtualResult struct {
	Stats      StatsSnapshot
	Channel    transport.ChannelStats
	Violations []Violation
	// Drained reports whether every request issued was granted before the run ended.
	Drained   bool
	Snapshots []mutex.Snapshot
}

/*
VirtualRun runs the processes on a VirtualChannel: the same protocol, the same random trigger and hold policy, but in virtual time on a single goroutine, so that a run is reproducible from its seed.
*/
type VirtualRun struct {
	log       *logging.Logger
	conf      *Config
	channel   *transport.VirtualChannel
	hold      HoldPolicy
	rng       *rand.Rand
	observers mutex.Observers
}

// NewVirtualRun prepares a run. Observers may be added until Run is called.
func NewVirtualRun(logger *logging.Logger, conf *Config) (*VirtualRun, error) {
	delay, err := transport.NewUniformDelay(conf.MinDelay, conf.MaxDelay, conf.Seed)
	if err != nil {
		return nil, fmt.Errorf("message delay: %w", err)
	}
	hold, err := transport.NewUniformDelay(conf.MinHold, conf.MaxHold, conf.Seed+1)
	if err != nil {
		return nil, fmt.Errorf("hold duration: %w", err)
	}

	return &VirtualRun{
		log:     logger,
		conf:    conf,
		channel: transport.NewVirtualChannel(logger.WithPostfix("net"), delay),
		hold:    hold,
		rng:     rand.New(rand.NewSource(conf.Seed + 2)),
	}, nil
}

// Now returns the virtual time of the run.
func (r *VirtualRun) Now() time.Time {
	return r.channel.Now()
}

// AddObserver registers an observer notified of every event of the run.
func (r *VirtualRun) AddObserver(o mutex.Observer) {
	r.observers = append(r.observers, o)
}

type virtualEvent int

const (
	releaseEvent virtualEvent = iota
	deliveryEvent
	tickEvent
)

/*
Run executes events in virtual time order until entries critical section entries happened, then stops issuing requests and keeps going until every outstanding request is granted.

Events at the same instant are handled releases first, then deliveries, then the request trigger. A non-zero configured duration bounds the virtual time of the run.
*/
func (r *VirtualRun) Run(entries int) (*VirtualResult, error) {
	if entries < 1 {
		return nil, ErrNoEntries
	}

	stats := NewStats(r.Now)
	safety := NewSafetyMonitor(r.log.WithPostfix("safety"), r.Now)
	observer := append(mutex.Observers{stats, safety}, r.observers...)

	n := r.conf.Processes
	processes := make([]*mutex.Process, n)
	for i := range processes {
		pid := mutex.Pid(i)
		plog := r.log.WithPostfix(pid.String())
		if !r.conf.Debug {
			plog = plog.WithLogLevel(logging.WARN)
		}
		processes[i] = mutex.NewProcess(plog, r.channel, pid, n, observer)
		r.channel.Attach(pid, processes[i])
	}

	releases := utils.NewHeapMap[mutex.Pid, struct{}, time.Time](func(a, b time.Time) bool { return a.Before(b) })
	nextTick := r.Now().Add(r.conf.Tick)
	var deadline time.Time
	if r.conf.Duration > 0 {
		deadline = r.Now().Add(r.conf.Duration)
	}

	r.log.Infof("Starting virtual run of %d processes until %d entries (seed %d)", n, entries, r.conf.Seed)
	draining := false
	for {
		if !draining && stats.Snapshot().Entries >= uint64(entries) {
			r.log.Info("Target reached, draining outstanding requests")
			draining = true
		}
		if draining && allIdle(processes) && r.channel.Pending() == 0 {
			break
		}

		kind, at, ok := r.next(releases, nextTick, draining)
		if !ok {
			return nil, ErrStalled
		}
		if !deadline.IsZero() && at.After(deadline) {
			r.log.Warn("Virtual duration elapsed before the run completed")
			break
		}

		switch kind {
		case releaseEvent:
			entry, _ := releases.Pop()
			r.channel.AdvanceTo(entry.Priority)
			if err := processes[entry.Key].ExitCS(); err != nil {
				return nil, fmt.Errorf("release of %v: %w", entry.Key, err)
			}
		case deliveryEvent:
			if _, _, err := r.channel.Step(); err != nil {
				return nil, err
			}
		case tickEvent:
			r.channel.AdvanceTo(nextTick)
			nextTick = nextTick.Add(r.conf.Tick)
			for _, p := range processes {
				if p.State() != mutex.Idle || r.rng.Float64() >= r.conf.RequestProbability {
					continue
				}
				if err := p.RequestCS(); err != nil {
					return nil, err
				}
			}
		}

		for _, p := range processes {
			if !releases.Contains(p.ID()) && p.State() == mutex.InCS {
				releases.Push(p.ID(), struct{}{}, r.Now().Add(r.hold.Next()))
			}
		}
	}

	snapshots := make([]mutex.Snapshot, n)
	for i, p := range processes {
		snapshots[i] = p.Snapshot()
	}

	result := &VirtualResult{
		Stats:      stats.Snapshot(),
		Channel:    r.channel.Stats(),
		Violations: safety.Violations(),
		Drained:    allIdle(processes) && r.channel.Pending() == 0,
		Snapshots:  snapshots,
	}
	r.channel.Close()

	if len(result.Violations) > 0 {
		return result, fmt.Errorf("%d mutual exclusion violations", len(result.Violations))
	}
	return result, nil
}

// next returns the earliest pending event, if any. No tick is scheduled while draining.
func (r *VirtualRun) next(releases *utils.HeapMap[mutex.Pid, struct{}, time.Time], nextTick time.Time, draining bool) (virtualEvent, time.Time, bool) {
	var kind virtualEvent
	var at time.Time
	found := false
	consider := func(k virtualEvent, t time.Time) {
		if !found || t.Before(at) || (t.Equal(at) && k < kind) {
			kind, at, found = k, t, true
		}
	}

	if top, ok := releases.Peek(); ok {
		consider(releaseEvent, top.Priority)
	}
	if due, ok := r.channel.NextDue(); ok {
		consider(deliveryEvent, due)
	}
	if !draining {
		consider(tickEvent, nextTick)
	}
	return kind, at, found
}

func allIdle(processes []*mutex.Process) bool {
	for _, p := range processes {
		if p.State() != mutex.Idle {
			return false
		}
	}
	return true
}

var (
	// ErrNoEntries is returned when the run is asked for no entry at all.
	ErrNoEntries = errors.New("no entries requested")
	// ErrStalled is returned when a request is still outstanding but nothing is left to happen.
	ErrStalled = errors.New("run stalled with outstanding requests")
)

// RunVirtual runs conf in virtual time until entries critical section entries happened and every outstanding request is granted.
func RunVirtual(logger *logging.Logger, conf *Config, entries int, observers ...mutex.Observer) (*VirtualResult, error) {
	run, err := NewVirtualRun(logger, conf)
	if err != nil {
		return nil, err
	}
	for _, o := range observers {
		run.AddObserver(o)
	}
	return run.Run(entries)
}
