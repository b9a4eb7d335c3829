package trace

import (
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"sync"
	"time"

	"github.com/google/uuid"
)

const storeBatchSize = 256

/*
Recorder is an observer turning events into records of a run, written to a JSONL trace and to a store. Both are optional.

Records for the store are batched, one transaction per batch. Observers cannot fail, so write errors are logged and counted. It is safe for concurrent use.
*/
type Recorder struct {
	log   *logging.Logger
	runID uuid.UUID
	now   func() time.Time
	jsonl *JSONLWriter
	store *Store

	mu      sync.Mutex
	pending []Record
	written uint64
	errors  uint64
}

/*
NewRecorder creates a recorder for a run.

Parameters:
  - logger: The logger to use for logging write errors.
  - runID: The run the records belong to.
  - now: The clock of the run.
  - jsonl: The trace file, or nil.
  - store: The run store, or nil. The run must already be saved in it.
*/
func NewRecorder(logger *logging.Logger, runID uuid.UUID, now func() time.Time, jsonl *JSONLWriter, store *Store) *Recorder {
	return &Recorder{
		log:   logger,
		runID: runID,
		now:   now,
		jsonl: jsonl,
		store: store,
	}
}

func (r *Recorder) Observe(e mutex.Event) {
	rec := NewRecord(r.runID, r.now(), e)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.written++
	if r.jsonl != nil {
		if err := r.jsonl.Write(rec); err != nil {
			r.errors++
			r.log.Errorf("Failed to write %v to the trace: %v", rec.ID, err)
		}
	}
	if r.store != nil {
		r.pending = append(r.pending, rec)
		if len(r.pending) >= storeBatchSize {
			r.flushLocked()
		}
	}
}

// Flush writes the pending records to the store and flushes the trace.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

func (r *Recorder) flushLocked() {
	if r.jsonl != nil {
		if err := r.jsonl.Flush(); err != nil {
			r.errors++
			r.log.Errorf("Failed to flush the trace: %v", err)
		}
	}
	if r.store == nil || len(r.pending) == 0 {
		return
	}
	if err := r.store.Append(r.runID, r.pending...); err != nil {
		r.errors += uint64(len(r.pending))
		r.log.Errorf("Failed to store %d records: %v", len(r.pending), err)
	}
	r.pending = r.pending[:0]
}

// Counts returns the number of records observed and the number of write errors.
func (r *Recorder) Counts() (written, errors uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.errors
}
