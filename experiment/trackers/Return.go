// Package trackers implements Trackers of training statistics
package trackers

import (
	"math"

	"github.com/samuelfneumann/phasic/experiment/tracker"
	"github.com/samuelfneumann/phasic/ppg"
)

// Return tracks and saves the mean episodic return of each iteration.
// Iterations in which no episode finished are skipped.
//
// If eval is true, the returns of the evaluation environment are
// tracked instead of those of the training environment.
type Return struct {
	eval           bool
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new *Return Tracker
func NewReturn(filename string, eval bool) tracker.Tracker {
	return &Return{filename: filename, eval: eval}
}

// Track caches the mean episodic return of an iteration
func (r *Return) Track(s ppg.Stats) error {
	ret := s.EpisodeReturn
	if r.eval {
		ret = s.EvalEpisodeReturn
	}
	if !math.IsNaN(ret) {
		r.episodeReturns = append(r.episodeReturns, ret)
	}
	return nil
}

// Data returns the tracked returns
func (r *Return) Data() []float64 {
	return r.episodeReturns
}

// Save saves the data tracked by the Return Tracker to disk.
func (r *Return) Save() error {
	return tracker.SaveData(r.filename, r.episodeReturns)
}
