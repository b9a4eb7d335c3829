package trace

import (
	"rasim/internal/mutex"
	"time"

	"github.com/google/uuid"
)

// Record is one traced event of a run.
type Record struct {
	ID      uuid.UUID       `json:"id"`
	RunID   uuid.UUID       `json:"run_id"`
	Time    time.Time       `json:"time"`
	Kind    mutex.EventKind `json:"kind"`
	Pid     mutex.Pid       `json:"pid"`
	Peer    mutex.Pid       `json:"peer"`
	Clock   uint32          `json:"clock"`
	Message *mutex.Message  `json:"message,omitempty"`
}

// NewRecord stamps e with a new id and the given time.
func NewRecord(runID uuid.UUID, at time.Time, e mutex.Event) Record {
	rec := Record{
		ID:    uuid.New(),
		RunID: runID,
		Time:  at,
		Kind:  e.Kind,
		Pid:   e.Pid,
		Peer:  e.Peer,
		Clock: e.Clock,
	}
	if e.Message.Kind.Valid() {
		m := e.Message
		rec.Message = &m
	}
	return rec
}
