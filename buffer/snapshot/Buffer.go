// Package snapshot implements the bounded buffer of policy snapshots
// that are retained between auxiliary phases.
package snapshot

import (
	"fmt"
	"sync"
)

// Snapshot is a frozen record of one policy-phase iteration: the
// observations that were collected, the returns computed for them, and
// the action distribution and value estimates produced by the policy
// at the end of that iteration's policy phase. All slices are
// time-major over (Horizon, NumEnvs). A Snapshot is never modified
// once it has been appended to a Buffer.
type Snapshot struct {
	Iteration  int
	Horizon    int
	NumEnvs    int
	ObsSize    int
	NumActions int

	Observations []float64 // Horizon * NumEnvs * ObsSize
	Returns      []float64 // Horizon * NumEnvs
	LogProbs     []float64 // Horizon * NumEnvs * NumActions
	Values       []float64 // Horizon * NumEnvs
}

// Validate checks that the slice lengths agree with the dimensions
func (s Snapshot) Validate() error {
	rows := s.Horizon * s.NumEnvs
	if rows <= 0 {
		return fmt.Errorf("validate: snapshot must hold at least one step")
	}
	if len(s.Observations) != rows*s.ObsSize {
		return fmt.Errorf("validate: illegal observations length "+
			"\n\twant(%v)\n\thave(%v)", rows*s.ObsSize, len(s.Observations))
	}
	if len(s.Returns) != rows || len(s.Values) != rows {
		return fmt.Errorf("validate: returns (%v) and values (%v) must "+
			"have length %v", len(s.Returns), len(s.Values), rows)
	}
	if len(s.LogProbs) != rows*s.NumActions {
		return fmt.Errorf("validate: illegal log-probabilities length "+
			"\n\twant(%v)\n\thave(%v)", rows*s.NumActions, len(s.LogProbs))
	}
	return nil
}

// Buffer is a bounded FIFO of Snapshots. It only ever empties through
// Drain, which removes every Snapshot at once.
type Buffer struct {
	mu        sync.Mutex
	capacity  int
	snapshots []Snapshot
}

// New returns an empty Buffer holding at most capacity Snapshots
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("new: capacity must be positive, got %v",
			capacity)
	}
	return &Buffer{
		capacity:  capacity,
		snapshots: make([]Snapshot, 0, capacity),
	}, nil
}

// Append adds a Snapshot to the tail of the buffer. Appending to a full
// buffer returns ErrBufferFull and leaves the buffer unchanged.
func (b *Buffer) Append(s Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.snapshots) >= b.capacity {
		return ErrBufferFull
	}
	b.snapshots = append(b.snapshots, s)
	return nil
}

// Full returns whether the buffer holds its capacity of Snapshots
func (b *Buffer) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snapshots) == b.capacity
}

// Len returns the number of Snapshots in the buffer
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snapshots)
}

// Cap returns the capacity of the buffer
func (b *Buffer) Cap() int {
	return b.capacity
}

// Drain removes and returns every Snapshot in insertion order. Draining
// an empty buffer returns ErrBufferEmpty.
func (b *Buffer) Drain() ([]Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.snapshots) == 0 {
		return nil, ErrBufferEmpty
	}
	out := b.snapshots
	b.snapshots = make([]Snapshot, 0, b.capacity)
	return out, nil
}
