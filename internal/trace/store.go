package trace

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var runsBucket = []byte("runs")

// ErrUnknownRun is returned when a run is not in the store.
var ErrUnknownRun = errors.New("unknown run")

// RunInfo describes a run. Config and Stats are stored as given, in JSON.
type RunInfo struct {
	ID        uuid.UUID       `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Virtual   bool            `json:"virtual"`
	Config    json.RawMessage `json:"config,omitempty"`
	Stats     json.RawMessage `json:"stats,omitempty"`
}

/*
Store keeps runs and their records in a bbolt database.

Layout:
  - runs: run id -> RunInfo.
  - <run id>: one bucket per run, sequence number -> Record, in append order.
*/
type Store struct {
	db *bolt.DB
}

// OpenStore opens, or creates, the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun creates or overwrites the description of a run.
func (s *Store) SaveRun(info RunInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(runKey(info.ID)); err != nil {
			return err
		}
		return tx.Bucket(runsBucket).Put(runKey(info.ID), data)
	})
}

// Append stores records of a run, after the ones already stored. The run must have been saved first.
func (s *Store) Append(runID uuid.UUID, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runKey(runID))
		if bucket == nil {
			return fmt.Errorf("%w: %v", ErrUnknownRun, runID)
		}

		for _, rec := range records {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := bucket.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Runs returns every stored run, the most recent first.
func (s *Store) Runs() ([]RunInfo, error) {
	var runs []RunInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(_, v []byte) error {
			var info RunInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			runs = append(runs, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

// Run returns the description of a run.
func (s *Store) Run(runID uuid.UUID) (RunInfo, error) {
	var info RunInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(runsBucket).Get(runKey(runID))
		if v == nil {
			return fmt.Errorf("%w: %v", ErrUnknownRun, runID)
		}
		return json.Unmarshal(v, &info)
	})
	return info, err
}

// Records returns the records of a run, in append order.
func (s *Store) Records(runID uuid.UUID) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runKey(runID))
		if bucket == nil {
			return fmt.Errorf("%w: %v", ErrUnknownRun, runID)
		}
		return bucket.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

func runKey(id uuid.UUID) []byte {
	return []byte(id.String())
}

// seqKey encodes big endian so that bbolt iterates in sequence order.
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
