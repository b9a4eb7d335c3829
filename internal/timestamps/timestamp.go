package timestamps

import "fmt"

// Pid identifies a process of the simulation. Pids are dense: a system of N processes uses 0..N-1.
type Pid int

func (p Pid) String() string {
	return fmt.Sprintf("P%d", int(p))
}

// Timestamp is defined by a sequence number and a process identifier
type Timestamp struct {
	// The sequence number, i.e. the Lamport clock value at which the event was stamped.
	Seqnum uint32
	// The Pid of the process on which the timestamp was generated. Used to break ties in sequence numbers.
	Pid Pid
}

// LessThan returns true iff the timestamp is strictly less than the other timestamp, meaning it has priority over it.
//
// The order is total as long as pids are unique: two distinct processes never produce equal timestamps.
func (ts Timestamp) LessThan(other Timestamp) bool {
	return ts.Seqnum < other.Seqnum || (ts.Seqnum == other.Seqnum && ts.Pid < other.Pid)
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("TS(%s:%v)", ts.Pid, ts.Seqnum)
}
