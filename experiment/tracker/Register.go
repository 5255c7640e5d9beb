package tracker

import "github.com/samuelfneumann/phasic/ppg"

// registeredTracker registers a rank of a process group with some
// Tracker so that the Tracker only tracks data on the registered rank.
// registeredTracker itself is a Tracker.
//
// Statistics are reduced over the process group before they are
// tracked, so every rank sees the same values. Registering a Tracker
// with a single rank avoids writing the same data once per rank.
type registeredTracker struct {
	Tracker
	active bool
}

// Register registers a Tracker with the root rank of a process group.
// The returned Tracker tracks and saves data only if rank == root, and
// is a no-op otherwise.
func Register(t Tracker, rank, root int) Tracker {
	return &registeredTracker{t, rank == root}
}

// Track calls Track() on the embedded Tracker on the registered rank
func (r *registeredTracker) Track(s ppg.Stats) error {
	if !r.active {
		return nil
	}
	return r.Tracker.Track(s)
}

// Save calls Save() on the embedded Tracker on the registered rank
func (r *registeredTracker) Save() error {
	if !r.active {
		return nil
	}
	return r.Tracker.Save()
}
