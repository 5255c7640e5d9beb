package trackers

import (
	"github.com/samuelfneumann/phasic/ppg"
	"github.com/samuelfneumann/phasic/utils/progressbar"
)

// Progress displays the fraction of the interaction budget used so far
type Progress struct {
	bar *progressbar.ManualProgressBar
}

// NewProgress returns a Progress Tracker displaying bar
func NewProgress(bar *progressbar.ManualProgressBar) *Progress {
	return &Progress{bar: bar}
}

// Track updates and redraws the progress bar
func (p *Progress) Track(s ppg.Stats) error {
	p.bar.Set(s.Interactions)
	return p.bar.Display()
}

// Save ends the progress bar's line
func (p *Progress) Save() error {
	return p.bar.Close()
}
