package simulation

import (
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"sort"
	"sync"
	"time"
)

// Violation records two or more processes holding the critical section at once.
type Violation struct {
	Time    time.Time
	Holders []mutex.Pid
}

// SafetyMonitor is an observer checking that at most one process holds the critical section. It is safe for concurrent use.
type SafetyMonitor struct {
	log *logging.Logger
	now func() time.Time

	mu         sync.Mutex
	holders    map[mutex.Pid]struct{}
	violations []Violation
}

// NewSafetyMonitor creates a monitor with no holder.
func NewSafetyMonitor(logger *logging.Logger, now func() time.Time) *SafetyMonitor {
	return &SafetyMonitor{
		log:     logger,
		now:     now,
		holders: make(map[mutex.Pid]struct{}),
	}
}

func (m *SafetyMonitor) Observe(e mutex.Event) {
	switch e.Kind {
	case mutex.CSEntered:
		m.mu.Lock()
		defer m.mu.Unlock()

		m.holders[e.Pid] = struct{}{}
		if len(m.holders) > 1 {
			v := Violation{Time: m.now(), Holders: m.holdersLocked()}
			m.log.Errorf("Mutual exclusion violated: %v hold the critical section", v.Holders)
			m.violations = append(m.violations, v)
		}
	case mutex.CSExited:
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.holders, e.Pid)
	}
}

func (m *SafetyMonitor) holdersLocked() []mutex.Pid {
	holders := make([]mutex.Pid, 0, len(m.holders))
	for pid := range m.holders {
		holders = append(holders, pid)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })
	return holders
}

// Holders returns the processes currently holding the critical section.
func (m *SafetyMonitor) Holders() []mutex.Pid {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdersLocked()
}

// Violations returns every violation recorded so far.
func (m *SafetyMonitor) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Violation{}, m.violations...)
}
