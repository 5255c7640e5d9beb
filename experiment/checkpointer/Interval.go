package checkpointer

import (
	"github.com/samuelfneumann/phasic/ppg"
)

// Interval implements checkpointing every N interactions
type Interval struct {
	interval int
	last     int

	// filename returns the name of the file to save a checkpoint in.
	// Use Filename to key files by run and interaction count.
	filename func(ppg.Checkpoint) string

	saved []string
}

// NewInterval returns a Checkpointer that saves the first checkpoint
// offered after at least n interactions have passed since the last
// saved one, counting from start. If n <= 0 every checkpoint offered
// is saved.
func NewInterval(n, start int,
	filename func(ppg.Checkpoint) string) *Interval {
	return &Interval{
		interval: n,
		last:     start,
		filename: filename,
	}
}

// Checkpoint saves c if the interval has passed
func (i *Interval) Checkpoint(c ppg.Checkpoint) error {
	if i.interval > 0 && c.Interactions-i.last < i.interval {
		return nil
	}

	name := i.filename(c)
	if err := Save(name, c); err != nil {
		return err
	}
	i.last = c.Interactions
	i.saved = append(i.saved, name)
	return nil
}

// Saved returns the names of the files saved so far
func (i *Interval) Saved() []string {
	return i.saved
}
