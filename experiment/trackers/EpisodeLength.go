package trackers

import (
	"math"

	"github.com/samuelfneumann/phasic/experiment/tracker"
	"github.com/samuelfneumann/phasic/ppg"
)

// EpisodeLength tracks and saves the mean length of the episodes that
// finished in each iteration. Iterations in which no episode finished
// are skipped.
type EpisodeLength struct {
	episodeLengths []float64
	filename       string
}

// NewEpisodeLength returns a new EpisodeLength Tracker which will save
// its data at the specified location filename
func NewEpisodeLength(filename string) tracker.Tracker {
	return &EpisodeLength{filename: filename}
}

// Track caches the mean episode length of an iteration
func (e *EpisodeLength) Track(s ppg.Stats) error {
	if !math.IsNaN(s.EpisodeLength) {
		e.episodeLengths = append(e.episodeLengths, s.EpisodeLength)
	}
	return nil
}

// Data returns the tracked episode lengths
func (e *EpisodeLength) Data() []float64 {
	return e.episodeLengths
}

// Save saves the data tracked by the EpisodeLength Tracker to disk.
func (e *EpisodeLength) Save() error {
	return tracker.SaveData(e.filename, e.episodeLengths)
}
